// fhecredit: encrypted credit-risk scoring with CKKS
//
// The front holds the secret key, preprocesses and encrypts an applicant record
// and decrypts the score. The blind server evaluates the logistic model on the
// ciphertext only.
//
// Usage:
//   fhecredit <command> [flags]
//
// Commands:
//   serve     Run the blind server (POST /run_fhe, GET /health)
//   front     Run the front web UI
//   predict   Score one JSON record read from stdin
//   keygen    Create or regenerate the front key bundle
//   train     Fit the preprocessor and logistic regression on an ARFF file
//   evaluate  Compare encrypted and clear predictions on the held-out split
//   health    Query a blind server's health endpoint
//   version   Print version information

package main

import (
	"encoding/json"
	"fmt"
	"os"
)

const VERSION = "0.1.0"

type ErrorOutput struct {
	Error string `json:"error"`
}

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	command := os.Args[1]
	args := os.Args[2:]

	var err error
	switch command {
	case "version":
		outputJSON(map[string]string{"version": VERSION})
	case "serve":
		err = handleServe(args)
	case "front":
		err = handleFront(args)
	case "predict":
		err = handlePredict(args)
	case "keygen":
		err = handleKeygen(args)
	case "train":
		err = handleTrain(args)
	case "evaluate":
		err = handleEvaluate(args)
	case "health":
		err = handleHealth(args)
	case "help", "-h", "--help":
		printUsage()
	default:
		outputError(fmt.Sprintf("Unknown command: %s", command))
		os.Exit(1)
	}

	if err != nil {
		outputError(err.Error())
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Fprintln(os.Stderr, `fhecredit: encrypted credit-risk scoring

Usage:
  fhecredit <command> [flags]

Commands:
  serve     Run the blind server (POST /run_fhe, GET /health)
  front     Run the front web UI
  predict   Score one JSON record read from stdin
  keygen    Create (or with -force regenerate) the front key bundle
  train     Fit the preprocessor and logistic regression on an ARFF file
  evaluate  Compare encrypted and clear predictions on the held-out split
  health    Query a blind server's health endpoint
  version   Print version information
  help      Print this help message

Every command accepts -config <file.yaml>. Results are written to stdout as
JSON, logs go to stderr. Run "fhecredit <command> -h" for its flags.`)
}

func outputJSON(v interface{}) {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		outputError(fmt.Sprintf("Failed to encode output: %v", err))
		os.Exit(1)
	}
}

func outputError(msg string) {
	enc := json.NewEncoder(os.Stdout)
	enc.Encode(ErrorOutput{Error: msg})
}
