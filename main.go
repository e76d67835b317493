// Copyright 2025 Toly Pochkin
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"fmt"
)

func main() {
	fmt.Println("🚑 MotivAid PPH - Offline-first record store and sync engine")
	fmt.Println("============================================================")
	fmt.Println()
	fmt.Println("Bedside devices record postpartum hemorrhage cases, vital signs,")
	fmt.Println("E-MOTIVE checklist progress and emergency contacts into a local SQLite")
	fmt.Println("store. Every change is queued durably and pushed to the row API when")
	fmt.Println("the network allows, parent cases before their dependents.")
	fmt.Println()

	fmt.Println("📚 Available Examples:")
	fmt.Println()
	fmt.Println("1. 🌐 Row API Server (examples/rowapi_server/)")
	fmt.Println("   PostgreSQL system of record for collector devices")
	fmt.Println("   Features: JWT auth, idempotent inserts on local_id, typed columns")
	fmt.Println("   Run: DATABASE_URL=postgres://... go run ./examples/rowapi_server")
	fmt.Println()

	fmt.Println("2. 📱 Collector CLI (examples/collector/)")
	fmt.Println("   Offline-first device: cases, vitals, checklist, contacts, sync queue")
	fmt.Println("   Features: durable queue, retries, connectivity-driven sync, verify")
	fmt.Println("   Run: go run ./examples/collector case open \"Patient Name\"")
	fmt.Println("        go run ./examples/collector watch")
	fmt.Println()
}
