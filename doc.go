/*
Package convengine is a rule-driven conversational engine.

Each incoming message runs as a turn through an ordered pipeline of steps.
The order is compiled once from the steps' declared constraints into a
deterministic topological order. Steps share a mutable per-turn Session; a
rule engine evaluates prioritized condition/action rules against it, and
every decision is recorded through a configurable audit pipeline.

# Usage

	package main

	import (
		"context"
		"fmt"
		"log"

		"github.com/aretw0/convengine"
		"github.com/aretw0/convengine/pkg/adapters/memory"
		"github.com/aretw0/convengine/pkg/domain"
		"github.com/aretw0/convengine/pkg/ports"
	)

	func main() {
		rules := memory.NewRuleStore(domain.Rule{
			ID: "greet", Type: "REGEX", Pattern: "^hi",
			Action: "SET_INTENT", ActionValue: "GREETING", Enabled: true,
		})

		eng, err := convengine.New(convengine.WithRuleSource(rules))
		if err != nil {
			log.Fatal(err)
		}
		defer eng.Close(context.Background())

		res, err := eng.Process(context.Background(), ports.Turn{Text: "hi there"})
		if err != nil {
			log.Fatal(err)
		}
		fmt.Println(res.Intent) // GREETING
	}

# Architecture

Ports live in pkg/ports and the data model in pkg/domain. Steps are
scheduled by pkg/pipeline, rules by pkg/rules and auditing by pkg/audit.
Storage backends (memory, Redis, SQLite) are under pkg/adapters.
*/
package convengine
