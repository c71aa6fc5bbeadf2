package agw

import (
	"context"
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"

	"github.com/gateway-fm/clicker/internal/rpc"
)

const registryABIJSON = `[
	{"type":"function","name":"getCallPolicyStatus","stateMutability":"view",
	 "inputs":[{"name":"target","type":"address"},{"name":"selector","type":"bytes4"}],
	 "outputs":[{"name":"","type":"uint8"}]}
]`

const multicallABIJSON = `[
	{"type":"function","name":"aggregate3","stateMutability":"payable",
	 "inputs":[{"name":"calls","type":"tuple[]","components":[
		{"name":"target","type":"address"},
		{"name":"allowFailure","type":"bool"},
		{"name":"callData","type":"bytes"}]}],
	 "outputs":[{"name":"returnData","type":"tuple[]","components":[
		{"name":"success","type":"bool"},
		{"name":"returnData","type":"bytes"}]}]}
]`

// policyAllowed is the registry status of a whitelisted policy.
const policyAllowed = 1

var (
	registryABI        = mustParse(registryABIJSON)
	multicallABI       = mustParse(multicallABIJSON)
	aggregate3Selector = multicallABI.Methods["aggregate3"].ID
)

type multicallCall struct {
	Target       common.Address
	AllowFailure bool
	CallData     []byte
}

type multicallResult struct {
	Success    bool
	ReturnData []byte
}

func mustParse(raw string) abi.ABI {
	parsed, err := abi.JSON(strings.NewReader(raw))
	if err != nil {
		panic(fmt.Sprintf("invalid ABI: %v", err))
	}
	return parsed
}

// checkPolicies asks the policy registry, in one multicall, whether every
// call policy of the session is allowed.
func (c *SessionClient) checkPolicies(ctx context.Context) error {
	policies := c.session.Config.CallPolicies
	calls := make([]multicallCall, 0, len(policies))
	for _, p := range policies {
		data, err := registryABI.Pack("getCallPolicyStatus", p.Target, [4]byte(p.Selector))
		if err != nil {
			return fmt.Errorf("failed to pack policy check: %w", err)
		}
		calls = append(calls, multicallCall{Target: c.profile.PolicyRegistry, CallData: data})
	}

	data, err := multicallABI.Pack("aggregate3", calls)
	if err != nil {
		return fmt.Errorf("failed to pack multicall: %w", err)
	}
	out, err := c.client.EthCall(ctx, rpc.CallMsg{To: c.profile.Multicall3, Data: data})
	if err != nil {
		return fmt.Errorf("policy check failed: %w", err)
	}

	values, err := multicallABI.Unpack("aggregate3", out)
	if err != nil {
		return fmt.Errorf("failed to unpack multicall: %w", err)
	}
	results := *abi.ConvertType(values[0], new([]multicallResult)).(*[]multicallResult)
	if len(results) != len(policies) {
		return fmt.Errorf("policy check returned %d results, want %d", len(results), len(policies))
	}

	for i, r := range results {
		if !r.Success {
			return fmt.Errorf("%w: registry call for %s reverted", ErrPolicyNotAllowed, policies[i].Target.Hex())
		}
		status, err := registryABI.Unpack("getCallPolicyStatus", r.ReturnData)
		if err != nil {
			return fmt.Errorf("failed to unpack policy status: %w", err)
		}
		if s, _ := status[0].(uint8); s != policyAllowed {
			return fmt.Errorf("%w: %s selector %x has status %d", ErrPolicyNotAllowed, policies[i].Target.Hex(), policies[i].Selector, s)
		}
	}
	return nil
}
