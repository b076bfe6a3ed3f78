package chain

import (
	"errors"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
)

// Only the parts of the RugMania ABI this module calls or decodes.
const rugManiaABI = `[
  {"type":"function","name":"getGame","stateMutability":"view",
   "inputs":[{"name":"player","type":"address"}],
   "outputs":[
     {"name":"isActive","type":"bool"},
     {"name":"currentLevel","type":"uint8"},
     {"name":"betAmount","type":"uint256"},
     {"name":"doorsPerLevel","type":"uint8"},
     {"name":"serverSeedHash","type":"bytes32"},
     {"name":"clientSeed","type":"bytes32"},
     {"name":"multiplier","type":"uint256"}]},
  {"type":"function","name":"placeBet","stateMutability":"payable",
   "inputs":[
     {"name":"doors","type":"uint8"},
     {"name":"clientSeed","type":"bytes32"},
     {"name":"serverSeedHash","type":"bytes32"}],
   "outputs":[]},
  {"type":"function","name":"selectDoor","stateMutability":"nonpayable",
   "inputs":[
     {"name":"doorIndex","type":"uint8"},
     {"name":"serverSeed","type":"bytes32"}],
   "outputs":[]},
  {"type":"function","name":"cashOut","stateMutability":"nonpayable","inputs":[],"outputs":[]},
  {"type":"event","name":"BetPlaced","anonymous":false,"inputs":[
     {"name":"player","type":"address","indexed":true},
     {"name":"amount","type":"uint256","indexed":false},
     {"name":"doors","type":"uint8","indexed":false},
     {"name":"serverSeedHash","type":"bytes32","indexed":false}]},
  {"type":"event","name":"DoorSelected","anonymous":false,"inputs":[
     {"name":"player","type":"address","indexed":true},
     {"name":"doorIndex","type":"uint8","indexed":false},
     {"name":"survived","type":"bool","indexed":false},
     {"name":"level","type":"uint8","indexed":false},
     {"name":"newMultiplier","type":"uint256","indexed":false}]},
  {"type":"event","name":"Rugged","anonymous":false,"inputs":[
     {"name":"player","type":"address","indexed":true},
     {"name":"level","type":"uint8","indexed":false},
     {"name":"rugDoor","type":"uint8","indexed":false}]},
  {"type":"event","name":"CashOut","anonymous":false,"inputs":[
     {"name":"player","type":"address","indexed":true},
     {"name":"payout","type":"uint256","indexed":false},
     {"name":"level","type":"uint8","indexed":false}]},
  {"type":"event","name":"MaxLevelAchieved","anonymous":false,"inputs":[
     {"name":"player","type":"address","indexed":true},
     {"name":"payout","type":"uint256","indexed":false}]}
]`

const (
	EventBetPlaced        = "BetPlaced"
	EventDoorSelected     = "DoorSelected"
	EventRugged           = "Rugged"
	EventCashOut          = "CashOut"
	EventMaxLevelAchieved = "MaxLevelAchieved"
)

var contractABI = mustParseABI()

func mustParseABI() abi.ABI {
	parsed, err := abi.JSON(strings.NewReader(rugManiaABI))
	if err != nil {
		panic(fmt.Sprintf("chain: bad contract ABI: %v", err))
	}
	return parsed
}

// ABI returns the parsed contract ABI.
func ABI() abi.ABI {
	return contractABI
}

// EventTopics are the topic0 values of every decodable event.
func EventTopics() []common.Hash {
	names := []string{EventBetPlaced, EventDoorSelected, EventRugged, EventCashOut, EventMaxLevelAchieved}
	out := make([]common.Hash, len(names))
	for i, n := range names {
		out[i] = contractABI.Events[n].ID
	}
	return out
}

// DecodeLog turns a contract log into an Event. ok is false for logs this
// package does not know about.
func DecodeLog(lg types.Log) (ev Event, ok bool, err error) {
	if len(lg.Topics) < 2 {
		return nil, false, nil
	}
	evt, err := contractABI.EventByID(lg.Topics[0])
	if err != nil {
		return nil, false, nil
	}

	fields := map[string]interface{}{}
	if err := contractABI.UnpackIntoMap(fields, evt.Name, lg.Data); err != nil {
		return nil, false, fmt.Errorf("decode %s: %w", evt.Name, err)
	}

	meta := Meta{
		Player:      strings.ToLower(common.BytesToAddress(lg.Topics[1].Bytes()).Hex()),
		TxHash:      lg.TxHash.Hex(),
		LogIndex:    lg.Index,
		BlockNumber: lg.BlockNumber,
	}

	switch evt.Name {
	case EventBetPlaced:
		return BetPlaced{Info: meta, Amount: bigField(fields, "amount"), Doors: intField(fields, "doors")}, true, nil
	case EventDoorSelected:
		survived, _ := fields["survived"].(bool)
		return DoorResolved{
			Info:          meta,
			Door:          intField(fields, "doorIndex"),
			Survived:      survived,
			Level:         intField(fields, "level"),
			NewMultiplier: bigField(fields, "newMultiplier"),
		}, true, nil
	case EventRugged:
		return Rugged{Info: meta, Level: intField(fields, "level"), RugDoor: intField(fields, "rugDoor")}, true, nil
	case EventCashOut:
		return CashedOut{Info: meta, Payout: bigField(fields, "payout"), Level: intField(fields, "level")}, true, nil
	case EventMaxLevelAchieved:
		return MaxLevelReached{Info: meta, Payout: bigField(fields, "payout")}, true, nil
	}
	return nil, false, nil
}

// DecodeReceipt collects the events a receipt emitted from contract. Logs
// that fail to decode are skipped and reported in err; events always holds
// everything that did decode.
func DecodeReceipt(rcpt *types.Receipt, contract common.Address) ([]Event, error) {
	var (
		events []Event
		errs   []error
	)
	for _, lg := range rcpt.Logs {
		if lg == nil || lg.Address != contract {
			continue
		}
		ev, ok, err := DecodeLog(*lg)
		if err != nil {
			errs = append(errs, fmt.Errorf("log %d: %w", lg.Index, err))
			continue
		}
		if ok {
			events = append(events, ev)
		}
	}
	return events, errors.Join(errs...)
}

func bigField(m map[string]interface{}, name string) *big.Int {
	if v, ok := m[name].(*big.Int); ok {
		return v
	}
	return new(big.Int)
}

func intField(m map[string]interface{}, name string) int {
	switch v := m[name].(type) {
	case uint8:
		return int(v)
	case *big.Int:
		return int(v.Int64())
	}
	return 0
}
