// Package dedup builds the deterministic dedup_key strings used by the
// event store's insert-or-ignore append path. Every function here is a
// pure string template over an event's natural key so
// that replayed ingestion — a reconnect replay, a re-run poller window, a
// retried backfill — never inserts the same fact twice.
package dedup

import "fmt"

// Trade builds the dedup key for a TradeExecuted event.
func Trade(exchange, venue, symbol, exchangeTradeID string) string {
	return fmt.Sprintf("%s:%s:%s:trade:%s", exchange, venue, symbol, exchangeTradeID)
}

// Order builds the dedup key for an OrderPlaced event.
func Order(exchange, venue, symbol, exchangeOrderID string) string {
	return fmt.Sprintf("%s:%s:%s:order:%s", exchange, venue, symbol, exchangeOrderID)
}

// OrderStatus builds the dedup key for an OrderUpdated/OrderCancelled event,
// distinguished per status and update time so every status transition gets
// its own row even for the same order.
func OrderStatus(exchange, venue, symbol, exchangeOrderID, status string, updateTime int64) string {
	return fmt.Sprintf("%s:%s:%s:order:%s:%s:%d", exchange, venue, symbol, exchangeOrderID, status, updateTime)
}

// Position builds the dedup key for a PositionChanged snapshot event.
func Position(exchange, venue, symbol string, txTime int64) string {
	return fmt.Sprintf("%s:%s:%s:position:%d", exchange, venue, symbol, txTime)
}

// Balance builds the dedup key for a BalanceChanged snapshot event.
func Balance(exchange, venue, asset string, txTime int64) string {
	return fmt.Sprintf("%s:%s:%s:balance:%d", exchange, venue, asset, txTime)
}

// Funding builds the dedup key for a FundingApplied event.
func Funding(exchange, symbol string, fundingTS int64) string {
	return fmt.Sprintf("%s:%s:funding:%d", exchange, symbol, fundingTS)
}

// Rebate builds the dedup key for a CommissionRebateReceived event.
func Rebate(exchange, tranID string) string {
	return fmt.Sprintf("%s:rebate:%s", exchange, tranID)
}

// Family builds the dedup key shared by transfer/deposit/withdraw/convert/
// dust events: {exchange}:{family}:{id}.
func Family(exchange, family, id string) string {
	return fmt.Sprintf("%s:%s:%s", exchange, family, id)
}

// WsEvent builds the dedup key for a WebSocket lifecycle event.
func WsEvent(exchange, event string, tsMs int64) string {
	return fmt.Sprintf("%s:ws:%s:%d", exchange, event, tsMs)
}

// EngineEvent builds the dedup key for an engine lifecycle event.
func EngineEvent(event string, tsMs int64) string {
	return fmt.Sprintf("engine:%s:%d", event, tsMs)
}

// InitialCapital builds the dedup key for the first-run capital snapshot.
func InitialCapital(mode, snapshotDate string) string {
	return fmt.Sprintf("initial_capital:%s:%s", mode, snapshotDate)
}

// Income builds the dedup key for a backfilled income-history entry.
func Income(exchange, incomeType, tranID string) string {
	return fmt.Sprintf("%s:income:%s:%s", exchange, incomeType, tranID)
}

// OpeningAdjustment builds the dedup key for an OpeningBalanceAdjusted event.
func OpeningAdjustment(mode, venue, asset string, tsMs int64) string {
	return fmt.Sprintf("opening_adjustment:%s:%s:%s:%d", mode, venue, asset, tsMs)
}
