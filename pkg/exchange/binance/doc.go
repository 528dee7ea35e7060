// Package binance implements the Binance spot protocol.
//
// The package includes:
//   - Protocol: REST request building, response parsing, usage headers and signing
//   - Normalizer: conversion from Binance payloads to canonical types
//   - Feed: combined market streams written into a push store
//
// Example usage:
//
//	protocol := binance.NewProtocol()
//	req, err := protocol.BuildRequest(ctx, core.OpGetPrice, core.Params{"symbol": "BTC/USDT"})
package binance
