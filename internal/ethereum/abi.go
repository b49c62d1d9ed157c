package ethereum

import (
	"io"
	"strings"
)

// Minimal ABIs: only the events and methods the bot touches.

func settlementABI() io.Reader {
	return strings.NewReader(`[
		{
			"name": "Trade",
			"type": "event",
			"anonymous": false,
			"inputs": [
				{"name": "owner",      "type": "address", "indexed": true},
				{"name": "sellToken",  "type": "address", "indexed": false},
				{"name": "buyToken",   "type": "address", "indexed": false},
				{"name": "sellAmount", "type": "uint256", "indexed": false},
				{"name": "buyAmount",  "type": "uint256", "indexed": false},
				{"name": "feeAmount",  "type": "uint256", "indexed": false},
				{"name": "orderUid",   "type": "bytes",   "indexed": false}
			]
		}
	]`)
}

func erc20ABI() io.Reader {
	return strings.NewReader(`[
		{
			"name": "balanceOf",
			"type": "function",
			"stateMutability": "view",
			"inputs": [{"name": "_owner", "type": "address"}],
			"outputs": [{"name": "balance", "type": "uint256"}]
		}
	]`)
}

func multicall3ABI() io.Reader {
	return strings.NewReader(`[
		{
			"name": "aggregate3",
			"type": "function",
			"stateMutability": "payable",
			"inputs": [
				{
					"name": "calls",
					"type": "tuple[]",
					"components": [
						{"name": "target",       "type": "address"},
						{"name": "allowFailure", "type": "bool"},
						{"name": "callData",     "type": "bytes"}
					]
				}
			],
			"outputs": [
				{
					"name": "returnData",
					"type": "tuple[]",
					"components": [
						{"name": "success",    "type": "bool"},
						{"name": "returnData", "type": "bytes"}
					]
				}
			]
		}
	]`)
}

func tokenAllowlistABI() io.Reader {
	return strings.NewReader(`[
		{
			"name": "isAllowed",
			"type": "function",
			"stateMutability": "view",
			"inputs": [{"name": "token", "type": "address"}],
			"outputs": [{"name": "", "type": "bool"}]
		}
	]`)
}

func tradingModuleABI() io.Reader {
	return strings.NewReader(`[
		{
			"name": "setOrder",
			"type": "function",
			"stateMutability": "nonpayable",
			"inputs": [
				{"name": "orderUid", "type": "bytes"},
				{
					"name": "order",
					"type": "tuple",
					"components": [
						{"name": "sellToken",         "type": "address"},
						{"name": "buyToken",          "type": "address"},
						{"name": "receiver",          "type": "address"},
						{"name": "sellAmount",        "type": "uint256"},
						{"name": "buyAmount",         "type": "uint256"},
						{"name": "validTo",           "type": "uint32"},
						{"name": "appData",           "type": "bytes32"},
						{"name": "feeAmount",         "type": "uint256"},
						{"name": "kind",              "type": "bytes32"},
						{"name": "partiallyFillable", "type": "bool"},
						{"name": "sellTokenBalance",  "type": "bytes32"},
						{"name": "buyTokenBalance",   "type": "bytes32"}
					]
				},
				{"name": "signed", "type": "bool"}
			],
			"outputs": []
		}
	]`)
}
