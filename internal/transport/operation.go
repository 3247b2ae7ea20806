package transport

import (
	"encoding/json"
)

// Kind is the shape of an outgoing operation.
type Kind string

const (
	KindQuery        Kind = "query"
	KindMutation     Kind = "mutation"
	KindSubscription Kind = "subscription"
)

// FetchPolicy decides how a point operation uses the local cache.
type FetchPolicy string

const (
	PolicyDefault         FetchPolicy = ""
	PolicyCacheFirst      FetchPolicy = "cache-first"
	PolicyCacheAndNetwork FetchPolicy = "cache-and-network"
	PolicyNetworkOnly     FetchPolicy = "network-only"
)

// Channel identifies which connection carries an operation.
type Channel string

const (
	ChannelPoint  Channel = "point"
	ChannelStream Channel = "stream"
	ChannelUpload Channel = "upload"
)

// Operation is one request against the remote API.
type Operation struct {
	Name      string
	Kind      Kind
	Document  string
	Variables map[string]any
	Policy    FetchPolicy
}

// Result is the outcome of a routed operation. Point operations fill Data;
// subscriptions fill Subscription. Err is only set on values sent by Watch.
type Result struct {
	Data         json.RawMessage
	FromCache    bool
	Subscription *Subscription
	Err          error
}

// Route returns the channel an operation travels on.
func Route(op Operation) Channel {
	if op.Kind == KindSubscription {
		return ChannelStream
	}
	return ChannelPoint
}

func (op Operation) policy() FetchPolicy {
	if op.Policy != PolicyDefault {
		return op.Policy
	}
	if op.Kind == KindMutation {
		return PolicyNetworkOnly
	}
	return PolicyCacheFirst
}

type pointRequest struct {
	OperationName string         `json:"operationName,omitempty"`
	Query         string         `json:"query"`
	Variables     map[string]any `json:"variables,omitempty"`
}

type apiError struct {
	Message    string `json:"message"`
	Extensions struct {
		Code  string `json:"code"`
		Field string `json:"field"`
	} `json:"extensions"`
}

type pointResponse struct {
	Data   json.RawMessage `json:"data"`
	Errors []apiError      `json:"errors"`
}

func newPointRequest(op Operation) pointRequest {
	return pointRequest{OperationName: op.Name, Query: op.Document, Variables: op.Variables}
}
