package contracts

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/rs/zerolog"

	"escrow-engine/internal/chains"
)

// Contract names resolvable through the façade.
const (
	ContractEscrow       = "escrow"
	ContractSubscription = "subscription"
)

// ErrContractUnavailable signals that the requested contract has no deployment
// on the chain. Callers must not fall back to a default fee tier on this
// error; "cannot verify" is not "no subscription".
var ErrContractUnavailable = errors.New("contract not deployed on chain")

// RPCError wraps a transport failure while talking to a chain's RPC endpoint.
type RPCError struct {
	ChainID uint64
	Err     error
}

func (e *RPCError) Error() string {
	return fmt.Sprintf("rpc call failed on chain %d: %v", e.ChainID, e.Err)
}

func (e *RPCError) Unwrap() error { return e.Err }

const subscriptionABIJSON = `[
  {"inputs":[{"internalType":"address","name":"user","type":"address"}],"name":"getUserPlan","outputs":[{"internalType":"uint256","name":"planKey","type":"uint256"},{"internalType":"uint256","name":"feeBps","type":"uint256"},{"internalType":"uint256","name":"expiresAt","type":"uint256"}],"stateMutability":"view","type":"function"},
  {"inputs":[{"internalType":"uint256","name":"planKey","type":"uint256"}],"name":"planFeeBps","outputs":[{"internalType":"uint256","name":"","type":"uint256"}],"stateMutability":"view","type":"function"}
]`

var subscriptionABI abi.ABI

func init() {
	parsed, err := abi.JSON(strings.NewReader(subscriptionABIJSON))
	if err != nil {
		panic("failed to parse subscription ABI: " + err.Error())
	}
	subscriptionABI = parsed
}

// Reader is the read-only contract surface the fee service depends on.
type Reader interface {
	// FeeTierBasisPoints resolves the user's effective fee tier. An expired
	// or absent subscription resolves to the free tier (0 bps is a valid
	// tier value; absence of a subscription is not an error).
	FeeTierBasisPoints(ctx context.Context, user common.Address, chainID uint64) (int64, error)

	// ContractAddress looks up a deployed contract address by name.
	ContractAddress(name string, chainID uint64) (common.Address, bool)
}

// UserPlan is the decoded on-chain subscription state for one user.
type UserPlan struct {
	PlanKey   uint64
	FeeBps    int64
	ExpiresAt time.Time
}

// Active reports whether the plan grants a tier at the given instant.
// Plan key 0 is the always-present free tier.
func (p UserPlan) Active(at time.Time) bool {
	return p.PlanKey != 0 && p.ExpiresAt.After(at)
}

// userPlanCall and planTierCall are the typed per-operation request shapes;
// each knows how to pack itself and decode its outputs.
type userPlanCall struct {
	user common.Address
}

func newUserPlanCall(user common.Address) userPlanCall {
	return userPlanCall{user: user}
}

func (c userPlanCall) pack() ([]byte, error) {
	return subscriptionABI.Pack("getUserPlan", c.user)
}

func (c userPlanCall) decode(data []byte) (UserPlan, error) {
	outputs, err := subscriptionABI.Unpack("getUserPlan", data)
	if err != nil {
		return UserPlan{}, err
	}
	if len(outputs) != 3 {
		return UserPlan{}, fmt.Errorf("unexpected getUserPlan output arity %d", len(outputs))
	}
	planKey, ok := outputs[0].(*big.Int)
	if !ok {
		return UserPlan{}, errors.New("failed to decode plan key")
	}
	feeBps, ok := outputs[1].(*big.Int)
	if !ok {
		return UserPlan{}, errors.New("failed to decode fee bps")
	}
	expiresAt, ok := outputs[2].(*big.Int)
	if !ok {
		return UserPlan{}, errors.New("failed to decode plan expiry")
	}
	return UserPlan{
		PlanKey:   planKey.Uint64(),
		FeeBps:    feeBps.Int64(),
		ExpiresAt: time.Unix(expiresAt.Int64(), 0).UTC(),
	}, nil
}

type planTierCall struct {
	planKey uint64
}

func newPlanTierCall(planKey uint64) planTierCall {
	return planTierCall{planKey: planKey}
}

func (c planTierCall) pack() ([]byte, error) {
	return subscriptionABI.Pack("planFeeBps", new(big.Int).SetUint64(c.planKey))
}

func (c planTierCall) decode(data []byte) (int64, error) {
	outputs, err := subscriptionABI.Unpack("planFeeBps", data)
	if err != nil {
		return 0, err
	}
	if len(outputs) != 1 {
		return 0, fmt.Errorf("unexpected planFeeBps output arity %d", len(outputs))
	}
	bps, ok := outputs[0].(*big.Int)
	if !ok {
		return 0, errors.New("failed to decode plan fee bps")
	}
	return bps.Int64(), nil
}

// Options parameterise the RPC-backed reader.
type Options struct {
	Timeout time.Duration
}

// EthReader reads escrow and subscription state over JSON-RPC.
type EthReader struct {
	opts     Options
	registry *chains.Registry
	logger   zerolog.Logger
	now      func() time.Time

	clientMux sync.Mutex
	clients   map[uint64]*ethclient.Client
}

// NewEthReader constructs the RPC-backed contract reader.
func NewEthReader(opts Options, registry *chains.Registry, logger zerolog.Logger) *EthReader {
	return &EthReader{
		opts:     opts,
		registry: registry,
		logger:   logger.With().Str("component", "contract_reader").Logger(),
		now:      time.Now,
		clients:  make(map[uint64]*ethclient.Client),
	}
}

// ContractAddress resolves a deployed contract address from chain metadata.
func (r *EthReader) ContractAddress(name string, chainID uint64) (common.Address, bool) {
	chain, err := r.registry.Chain(chainID)
	if err != nil {
		return common.Address{}, false
	}

	var hex string
	switch name {
	case ContractEscrow:
		hex = chain.EscrowAddress
	case ContractSubscription:
		hex = chain.SubscriptionAddress
	}
	if hex == "" {
		return common.Address{}, false
	}
	return common.HexToAddress(hex), true
}

// FeeTierBasisPoints reads the user's subscription plan and returns its fee
// tier, or the free tier when the plan is absent or expired.
func (r *EthReader) FeeTierBasisPoints(ctx context.Context, user common.Address, chainID uint64) (int64, error) {
	addr, ok := r.ContractAddress(ContractSubscription, chainID)
	if !ok {
		return 0, fmt.Errorf("%w: subscription on chain %d", ErrContractUnavailable, chainID)
	}

	timeout := r.opts.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	call := newUserPlanCall(user)
	payload, err := call.pack()
	if err != nil {
		return 0, err
	}

	data, err := r.callContract(ctx, chainID, addr, payload)
	if err != nil {
		return 0, err
	}

	plan, err := call.decode(data)
	if err != nil {
		return 0, &RPCError{ChainID: chainID, Err: err}
	}

	if !plan.Active(r.now()) {
		r.logger.Debug().Str("user", user.Hex()).Uint64("chain_id", chainID).Msg("no active subscription, using free tier")
		return 0, nil
	}
	if plan.FeeBps < 0 || plan.FeeBps > 10000 {
		return 0, fmt.Errorf("fee tier out of range: %d bps", plan.FeeBps)
	}
	return plan.FeeBps, nil
}

// PlanFeeBps reads the fee tier attached to a subscription plan key.
func (r *EthReader) PlanFeeBps(ctx context.Context, planKey uint64, chainID uint64) (int64, error) {
	addr, ok := r.ContractAddress(ContractSubscription, chainID)
	if !ok {
		return 0, fmt.Errorf("%w: subscription on chain %d", ErrContractUnavailable, chainID)
	}

	call := newPlanTierCall(planKey)
	payload, err := call.pack()
	if err != nil {
		return 0, err
	}

	data, err := r.callContract(ctx, chainID, addr, payload)
	if err != nil {
		return 0, err
	}
	return call.decode(data)
}

func (r *EthReader) callContract(ctx context.Context, chainID uint64, to common.Address, payload []byte) ([]byte, error) {
	client, err := r.getClient(ctx, chainID)
	if err != nil {
		return nil, err
	}

	data, err := client.CallContract(ctx, ethereum.CallMsg{To: &to, Data: payload}, nil)
	if err != nil {
		return nil, &RPCError{ChainID: chainID, Err: err}
	}
	return data, nil
}

func (r *EthReader) getClient(ctx context.Context, chainID uint64) (*ethclient.Client, error) {
	r.clientMux.Lock()
	defer r.clientMux.Unlock()

	if client, ok := r.clients[chainID]; ok {
		return client, nil
	}

	chain, err := r.registry.Chain(chainID)
	if err != nil {
		return nil, err
	}
	if chain.RPCURL == "" {
		return nil, fmt.Errorf("%w: no rpc url for chain %d", ErrContractUnavailable, chainID)
	}

	client, err := ethclient.DialContext(ctx, chain.RPCURL)
	if err != nil {
		return nil, &RPCError{ChainID: chainID, Err: err}
	}
	r.clients[chainID] = client
	return client, nil
}

// Close releases every dialled RPC client.
func (r *EthReader) Close() {
	r.clientMux.Lock()
	defer r.clientMux.Unlock()
	for _, client := range r.clients {
		client.Close()
	}
	r.clients = make(map[uint64]*ethclient.Client)
}

var _ Reader = (*EthReader)(nil)
