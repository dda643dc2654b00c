package onchain

import (
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
)

// Contract ABIs, trimmed to the methods used here.
var (
	ctfABI     abi.ABI
	negRiskABI abi.ABI
	erc1155ABI abi.ABI
	erc20ABI   abi.ABI
)

func mustABI(name, js string) abi.ABI {
	a, err := abi.JSON(strings.NewReader(js))
	if err != nil {
		panic(name + " abi parse: " + err.Error())
	}
	return a
}

func init() {
	ctfABI = mustABI("ctf", `[
		{"name":"mergePositions","type":"function","outputs":[],"inputs":[
			{"name":"collateralToken","type":"address"},
			{"name":"parentCollectionId","type":"bytes32"},
			{"name":"conditionId","type":"bytes32"},
			{"name":"partition","type":"uint256[]"},
			{"name":"amount","type":"uint256"}]},
		{"name":"redeemPositions","type":"function","outputs":[],"inputs":[
			{"name":"collateralToken","type":"address"},
			{"name":"parentCollectionId","type":"bytes32"},
			{"name":"conditionId","type":"bytes32"},
			{"name":"indexSets","type":"uint256[]"}]}
	]`)

	negRiskABI = mustABI("negrisk adapter", `[
		{"name":"mergePositions","type":"function","outputs":[],"inputs":[
			{"name":"conditionId","type":"bytes32"},
			{"name":"amount","type":"uint256"}]}
	]`)

	erc1155ABI = mustABI("erc1155", `[
		{"name":"setApprovalForAll","type":"function","outputs":[],"inputs":[
			{"name":"operator","type":"address"},
			{"name":"approved","type":"bool"}]},
		{"name":"isApprovedForAll","type":"function","outputs":[{"name":"","type":"bool"}],"inputs":[
			{"name":"account","type":"address"},
			{"name":"operator","type":"address"}]},
		{"name":"balanceOf","type":"function","outputs":[{"name":"","type":"uint256"}],"inputs":[
			{"name":"account","type":"address"},
			{"name":"id","type":"uint256"}]}
	]`)

	erc20ABI = mustABI("erc20", `[
		{"name":"approve","type":"function","outputs":[{"name":"","type":"bool"}],"inputs":[
			{"name":"spender","type":"address"},
			{"name":"amount","type":"uint256"}]},
		{"name":"allowance","type":"function","outputs":[{"name":"","type":"uint256"}],"inputs":[
			{"name":"owner","type":"address"},
			{"name":"spender","type":"address"}]}
	]`)
}
