// Package verifier is a client for the Voyager class verification API.
package verifier

import (
	"fmt"
	"os"
	"strings"
)

type Network string

const (
	Mainnet Network = "mainnet"
	Sepolia Network = "sepolia"
	Local   Network = "local"
	// Custom reads its endpoints from the environment.
	Custom Network = "custom"
)

// Environment overrides for the custom network.
const (
	EnvCustomInternalURL = "CUSTOM_INTERNAL_API_ENDPOINT_URL"
	EnvCustomPublicURL   = "CUSTOM_PUBLIC_API_ENDPOINT_URL"
	EnvUseMaxRetries     = "USE_POLLING_MAX_RETRIES"
)

func ParseNetwork(s string) (Network, error) {
	switch n := Network(strings.ToLower(strings.TrimSpace(s))); n {
	case Mainnet, Sepolia, Local, Custom:
		return n, nil
	default:
		return "", fmt.Errorf("unknown network: %s", s)
	}
}

// Endpoints holds the two API roots of a network. Internal serves class
// lookups; Public serves verification jobs.
type Endpoints struct {
	Internal string
	Public   string
}

func (n Network) Endpoints() Endpoints {
	switch n {
	case Mainnet:
		return Endpoints{Internal: "https://voyager.online", Public: "https://api.voyager.online/beta"}
	case Sepolia:
		return Endpoints{Internal: "https://sepolia.voyager.online", Public: "https://sepolia-api.voyager.online/beta"}
	case Local:
		return Endpoints{Internal: "http://localhost:8899", Public: "http://localhost:30380"}
	case Custom:
		return Endpoints{Internal: os.Getenv(EnvCustomInternalURL), Public: os.Getenv(EnvCustomPublicURL)}
	default:
		return Endpoints{}
	}
}

// JobStatus is the numeric status reported by the job endpoint.
type JobStatus int

const (
	StatusSubmitted JobStatus = iota
	StatusCompiled
	StatusCompileFailed
	StatusFail
	StatusSuccess
)

func (s JobStatus) String() string {
	switch s {
	case StatusSubmitted:
		return "Submitted"
	case StatusCompiled:
		return "Compiled"
	case StatusCompileFailed:
		return "CompileFailed"
	case StatusFail:
		return "Fail"
	case StatusSuccess:
		return "Success"
	default:
		return fmt.Sprintf("JobStatus(%d)", int(s))
	}
}

// Terminal reports whether polling can stop.
func (s JobStatus) Terminal() bool {
	return s == StatusCompileFailed || s == StatusFail || s == StatusSuccess
}
