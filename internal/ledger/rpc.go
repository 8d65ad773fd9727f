package ledger

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/chainpot/keeper/pkg/jsonrpc"
)

// Node-level RPC error codes that need special handling.
const (
	codeSimulationFailed = -32002
	codeNodeUnhealthy    = -32005
)

// RPCClient implements Client against a ledger node's JSON-RPC endpoint.
type RPCClient struct {
	rpc *jsonrpc.Client
}

// NewRPCClient creates a ledger client for the given endpoint.
func NewRPCClient(endpoint string, timeout time.Duration) *RPCClient {
	return &RPCClient{rpc: jsonrpc.NewClient(endpoint, timeout)}
}

// CurrentSlot implements Client.
func (c *RPCClient) CurrentSlot(ctx context.Context) (uint64, error) {
	var slot uint64
	if err := c.call(ctx, "getSlot", nil, &slot); err != nil {
		return 0, err
	}
	return slot, nil
}

type accountInfoResult struct {
	Value *struct {
		Data [2]string `json:"data"`
	} `json:"value"`
}

// ReadAccount implements Client.
func (c *RPCClient) ReadAccount(ctx context.Context, address string) ([]byte, error) {
	params := []interface{}{address, map[string]string{"encoding": "base64"}}
	var res accountInfoResult
	if err := c.call(ctx, "getAccountInfo", params, &res); err != nil {
		return nil, err
	}
	if res.Value == nil {
		return nil, ErrNotFound
	}
	data, err := base64.StdEncoding.DecodeString(res.Value.Data[0])
	if err != nil {
		return nil, fmt.Errorf("decode account data: %w", err)
	}
	return data, nil
}

// SubmitTransaction implements Client.
func (c *RPCClient) SubmitTransaction(ctx context.Context, tx *Transaction) (string, error) {
	wire, err := tx.Encode()
	if err != nil {
		return "", err
	}
	params := []interface{}{
		base64.StdEncoding.EncodeToString(wire),
		map[string]string{"encoding": "base64"},
	}
	var signature string
	if err := c.call(ctx, "sendTransaction", params, &signature); err != nil {
		return "", err
	}
	return signature, nil
}

type signatureStatusesResult struct {
	Value []*struct {
		ConfirmationStatus string          `json:"confirmationStatus"`
		Err                json.RawMessage `json:"err"`
	} `json:"value"`
}

// ConfirmTransaction implements Client.
func (c *RPCClient) ConfirmTransaction(ctx context.Context, signature string) error {
	params := []interface{}{[]string{signature}}
	var res signatureStatusesResult
	if err := c.call(ctx, "getSignatureStatuses", params, &res); err != nil {
		return err
	}
	if len(res.Value) == 0 || res.Value[0] == nil {
		return ErrUnconfirmed
	}
	status := res.Value[0]
	if len(status.Err) > 0 && !bytes.Equal(status.Err, []byte("null")) {
		return rejectionFromTransactionError(status.Err)
	}
	switch status.ConfirmationStatus {
	case "confirmed", "finalized":
		return nil
	}
	return ErrUnconfirmed
}

func (c *RPCClient) call(ctx context.Context, method string, params, out interface{}) error {
	err := c.rpc.Call(ctx, method, params, out)
	if err == nil {
		return nil
	}
	var jerr *jsonrpc.Error
	if errors.As(err, &jerr) {
		return mapRPCError(jerr)
	}
	// Transport trouble or an unreadable response body.
	return fmt.Errorf("%w: %v", ErrUnavailable, err)
}

func mapRPCError(jerr *jsonrpc.Error) error {
	switch {
	case jerr.Code >= 6000 && jerr.Code < 7000:
		return &RejectionError{Code: uint32(jerr.Code), Message: jerr.Message}
	case jerr.Code == codeSimulationFailed:
		if rej := rejectionFromData(jerr.Data); rej != nil {
			return rej
		}
		return &RejectionError{Message: jerr.Message}
	case jerr.Code == codeNodeUnhealthy:
		return fmt.Errorf("%w: %s", ErrUnavailable, jerr.Message)
	}
	return jerr
}

// rejectionFromData digs the program error out of a failed simulation's
// error data: {"err": {"InstructionError": [0, {"Custom": 6002}]}, ...}.
func rejectionFromData(data json.RawMessage) *RejectionError {
	if len(data) == 0 {
		return nil
	}
	var body struct {
		Err json.RawMessage `json:"err"`
	}
	if err := json.Unmarshal(data, &body); err != nil || len(body.Err) == 0 {
		return nil
	}
	return rejectionFromTransactionError(body.Err)
}

func rejectionFromTransactionError(raw json.RawMessage) *RejectionError {
	var ie struct {
		InstructionError []json.RawMessage `json:"InstructionError"`
	}
	if err := json.Unmarshal(raw, &ie); err == nil && len(ie.InstructionError) == 2 {
		var custom struct {
			Custom *uint32 `json:"Custom"`
		}
		if err := json.Unmarshal(ie.InstructionError[1], &custom); err == nil && custom.Custom != nil {
			return &RejectionError{Code: *custom.Custom, Message: "program rejected transaction"}
		}
	}
	return &RejectionError{Message: string(raw)}
}
