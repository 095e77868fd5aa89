package oracle

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
)

// aggregatorABI is the subset of AggregatorV3Interface read by the engine.
const aggregatorABI = `[
 {"inputs":[],"name":"decimals","outputs":[{"internalType":"uint8","name":"","type":"uint8"}],"stateMutability":"view","type":"function"},
 {"inputs":[],"name":"latestRoundData","outputs":[
   {"internalType":"uint80","name":"roundId","type":"uint80"},
   {"internalType":"int256","name":"answer","type":"int256"},
   {"internalType":"uint256","name":"startedAt","type":"uint256"},
   {"internalType":"uint256","name":"updatedAt","type":"uint256"},
   {"internalType":"uint80","name":"answeredInRound","type":"uint80"}],
  "stateMutability":"view","type":"function"}
]`

var (
	parsedAggregatorABI = mustParseABI(aggregatorABI)

	errMalformedRound = errors.New("oracle: malformed aggregator response")
)

func mustParseABI(def string) abi.ABI {
	parsed, err := abi.JSON(strings.NewReader(def))
	if err != nil {
		panic(fmt.Sprintf("oracle: parse aggregator abi: %v", err))
	}
	return parsed
}

// ChainlinkSource reads an AggregatorV3 price feed over Ethereum JSON-RPC.
type ChainlinkSource struct {
	caller  ethereum.ContractCaller
	address common.Address
}

// NewChainlinkSource binds an aggregator contract. *ethclient.Client
// satisfies ethereum.ContractCaller.
func NewChainlinkSource(caller ethereum.ContractCaller, address common.Address) *ChainlinkSource {
	return &ChainlinkSource{caller: caller, address: address}
}

// Address returns the aggregator contract address.
func (s *ChainlinkSource) Address() common.Address { return s.address }

// Latest calls latestRoundData() at the latest block.
func (s *ChainlinkSource) Latest(ctx context.Context) (Round, error) {
	out, err := s.call(ctx, "latestRoundData")
	if err != nil {
		return Round{}, err
	}
	if len(out) != 5 {
		return Round{}, errMalformedRound
	}
	roundID, ok1 := out[0].(*big.Int)
	answer, ok2 := out[1].(*big.Int)
	updatedAt, ok3 := out[3].(*big.Int)
	if !ok1 || !ok2 || !ok3 {
		return Round{}, errMalformedRound
	}
	r := Round{Answer: answer}
	if roundID.IsUint64() {
		r.RoundID = roundID.Uint64()
	}
	if updatedAt.Sign() > 0 && updatedAt.IsInt64() {
		r.ObservedAt = time.Unix(updatedAt.Int64(), 0).UTC()
	}
	return r, nil
}

// Decimals returns the aggregator's answer scale.
func (s *ChainlinkSource) Decimals(ctx context.Context) (uint8, error) {
	out, err := s.call(ctx, "decimals")
	if err != nil {
		return 0, err
	}
	if len(out) != 1 {
		return 0, errMalformedRound
	}
	d, ok := out[0].(uint8)
	if !ok {
		return 0, errMalformedRound
	}
	return d, nil
}

func (s *ChainlinkSource) call(ctx context.Context, method string) ([]interface{}, error) {
	data, err := parsedAggregatorABI.Pack(method)
	if err != nil {
		return nil, fmt.Errorf("oracle: pack %s: %w", method, err)
	}
	to := s.address
	res, err := s.caller.CallContract(ctx, ethereum.CallMsg{To: &to, Data: data}, nil)
	if err != nil {
		return nil, fmt.Errorf("oracle: call %s on %s: %w", method, s.address.Hex(), err)
	}
	out, err := parsedAggregatorABI.Unpack(method, res)
	if err != nil {
		return nil, fmt.Errorf("oracle: unpack %s: %w", method, err)
	}
	return out, nil
}
