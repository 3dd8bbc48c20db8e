// Package process lets SET_TASK rules run allow-listed local programs.
//
// Tasks are declared in a YAML (or JSON) file:
//
//	tasks:
//	  - name: quote
//	    command: ./bin/quote
//	    args: ["--currency", "EUR"]
//	    timeout: 5s
//
// A rule with action SET_TASK and action value "quote:express,2" runs
// ./bin/quote with CONVENGINE_ARG_1=express and CONVENGINE_ARG_2=2 in its
// environment; the process output lands in the context under tasks.quote.
package process
