package models

import (
	"math"
	"math/big"
	"strconv"
)

// WeiPerEther is 1e18; native MNT amounts and the contract's fixed-point
// multiplier share this scale.
var WeiPerEther = new(big.Int).Exp(big.NewInt(10), big.NewInt(18), nil)

func WeiToEther(wei *big.Int) float64 {
	if wei == nil {
		return 0
	}
	f, _ := new(big.Float).Quo(new(big.Float).SetInt(wei), new(big.Float).SetInt(WeiPerEther)).Float64()
	return f
}

// EtherToWei converts via the shortest decimal form of amount, so 0.1
// becomes exactly 1e17.
func EtherToWei(amount float64) *big.Int {
	if amount <= 0 || math.IsNaN(amount) || math.IsInf(amount, 0) {
		return new(big.Int)
	}
	r, ok := new(big.Rat).SetString(strconv.FormatFloat(amount, 'f', -1, 64))
	if !ok {
		return new(big.Int)
	}
	r.Mul(r, new(big.Rat).SetInt(WeiPerEther))
	return new(big.Int).Quo(r.Num(), r.Denom())
}

// WeiString renders a signed ether amount as an integer wei string.
func WeiString(amount float64) string {
	s := EtherToWei(math.Abs(amount)).String()
	if amount < 0 && s != "0" {
		return "-" + s
	}
	return s
}
