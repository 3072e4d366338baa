// Package types defines the shared vocabulary used across every layer of the
// engine — scope/actor coordinates, order enums, and the event/command
// envelopes. It has no dependency on any internal package so it can be
// imported everywhere, including by third-party strategy plug-ins.
package types

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// ————————————————————————————————————————————————————————————————————————
// Core enums
// ————————————————————————————————————————————————————————————————————————

// Side represents the direction of an order.
type Side string

const (
	BUY  Side = "BUY"
	SELL Side = "SELL"
)

// OrderType enumerates the order types the exchange accepts.
type OrderType string

const (
	OrderTypeMarket     OrderType = "MARKET"
	OrderTypeLimit      OrderType = "LIMIT"
	OrderTypeStopMarket OrderType = "STOP_MARKET"
	OrderTypeStopLimit  OrderType = "STOP"
)

// OrderStatus mirrors the exchange's order lifecycle states.
type OrderStatus string

const (
	OrderStatusNew             OrderStatus = "NEW"
	OrderStatusPartiallyFilled OrderStatus = "PARTIALLY_FILLED"
	OrderStatusFilled          OrderStatus = "FILLED"
	OrderStatusCanceled        OrderStatus = "CANCELED"
	OrderStatusRejected        OrderStatus = "REJECTED"
	OrderStatusExpired         OrderStatus = "EXPIRED"
)

// TimeInForce controls how long an order rests on the book.
type TimeInForce string

const (
	TIFGTC TimeInForce = "GTC" // good-til-cancelled
	TIFIOC TimeInForce = "IOC" // immediate-or-cancel
	TIFFOK TimeInForce = "FOK" // fill-or-kill
)

// PositionSide distinguishes hedge-mode long/short legs from one-way mode.
type PositionSide string

const (
	PositionBoth  PositionSide = "BOTH"
	PositionLong  PositionSide = "LONG"
	PositionShort PositionSide = "SHORT"
)

// EngineMode gates which commands the risk guard allows through.
type EngineMode string

const (
	ModeRunning EngineMode = "RUNNING"
	ModePaused  EngineMode = "PAUSED"
	ModeSafe    EngineMode = "SAFE"
)

// Venue distinguishes the exchange's account sub-ledgers.
type Venue string

const (
	VenueSpot    Venue = "SPOT"
	VenueFutures Venue = "FUTURES"
)

// EventSource records which worker produced an event.
type EventSource string

const (
	SourceBot       EventSource = "BOT"
	SourceWebsocket EventSource = "WEBSOCKET"
)

// ActorKind identifies who originated a command.
type ActorKind string

const (
	ActorStrategy ActorKind = "STRATEGY"
	ActorUser     ActorKind = "USER"
	ActorSystem   ActorKind = "SYSTEM"
)

// CommandStatus is the command lifecycle. Transitions are monotonic:
// NEW -> SENT -> (ACK | FAILED). No backward moves.
type CommandStatus string

const (
	StatusNew    CommandStatus = "NEW"
	StatusSent   CommandStatus = "SENT"
	StatusAck    CommandStatus = "ACK"
	StatusFailed CommandStatus = "FAILED"
)

// Priority tiers, advisory: higher always preempts lower at claim time.
const (
	PriorityUserUrgent = 100
	PriorityUserNormal = 50
	PrioritySystem     = 10
	PriorityStrategy   = 0
)

// ————————————————————————————————————————————————————————————————————————
// Command types
// ————————————————————————————————————————————————————————————————————————

// CommandType enumerates every dispatchable command.
type CommandType string

const (
	CmdPlaceOrder      CommandType = "PlaceOrder"
	CmdCancelOrder     CommandType = "CancelOrder"
	CmdClosePosition   CommandType = "ClosePosition"
	CmdSetLeverage     CommandType = "SetLeverage"
	CmdPauseEngine     CommandType = "PauseEngine"
	CmdResumeEngine    CommandType = "ResumeEngine"
	CmdSetEngineMode   CommandType = "SetEngineMode"
	CmdCancelAll       CommandType = "CancelAll"
	CmdRunReconcile    CommandType = "RunReconcile"
	CmdRebuildProj     CommandType = "RebuildProjection"
	CmdUpdateConfig    CommandType = "UpdateConfig"
	CmdInternalTransfer CommandType = "InternalTransfer"
	CmdWithdraw        CommandType = "Withdraw"
)

// allCommandTypes is used by validation helpers; kept alongside the const
// block so a new command type can't be added to one without the other.
var allCommandTypes = map[CommandType]bool{
	CmdPlaceOrder: true, CmdCancelOrder: true, CmdClosePosition: true,
	CmdSetLeverage: true, CmdPauseEngine: true, CmdResumeEngine: true,
	CmdSetEngineMode: true, CmdCancelAll: true, CmdRunReconcile: true,
	CmdRebuildProj: true, CmdUpdateConfig: true, CmdInternalTransfer: true,
	CmdWithdraw: true,
}

// IsValidCommandType reports whether ct is a recognized command type.
func IsValidCommandType(ct CommandType) bool {
	return allCommandTypes[ct]
}

// IsTradingClass reports whether ct is a command the EngineMode rule treats as
// "trading-class" (blocked while PAUSED).
func (ct CommandType) IsTradingClass() bool {
	switch ct {
	case CmdPlaceOrder, CmdCancelOrder, CmdClosePosition, CmdCancelAll, CmdSetLeverage:
		return true
	default:
		return false
	}
}

// ————————————————————————————————————————————————————————————————————————
// Event types
// ————————————————————————————————————————————————————————————————————————

// EventType enumerates every domain event the core can append.
type EventType string

const (
	EvtEngineStarted    EventType = "EngineStarted"
	EvtEngineStopped    EventType = "EngineStopped"
	EvtEnginePaused     EventType = "EnginePaused"
	EvtEngineResumed    EventType = "EngineResumed"
	EvtEngineModeChanged EventType = "EngineModeChanged"

	EvtOrderPlaced   EventType = "OrderPlaced"
	EvtOrderUpdated  EventType = "OrderUpdated"
	EvtOrderCancelled EventType = "OrderCancelled"
	EvtOrderRejected EventType = "OrderRejected"

	EvtTradeExecuted EventType = "TradeExecuted"
	EvtPositionChanged EventType = "PositionChanged"
	EvtBalanceChanged  EventType = "BalanceChanged"
	EvtFundingApplied  EventType = "FundingApplied"

	EvtCommissionRebateReceived EventType = "CommissionRebateReceived"
	EvtInternalTransferCompleted EventType = "InternalTransferCompleted"
	EvtDepositDetected  EventType = "DepositDetected"
	EvtDepositCompleted EventType = "DepositCompleted"
	EvtWithdrawCompleted EventType = "WithdrawCompleted"
	EvtConvertExecuted EventType = "ConvertExecuted"
	EvtDustConverted   EventType = "DustConverted"

	EvtInitialCapitalEstablished EventType = "InitialCapitalEstablished"
	EvtOpeningBalanceAdjusted    EventType = "OpeningBalanceAdjusted"

	EvtStrategyLoaded EventType = "StrategyLoaded"

	EvtWsConnected    EventType = "WsConnected"
	EvtWsDisconnected EventType = "WsDisconnected"
	EvtWsReconnected  EventType = "WsReconnected"

	EvtRiskGuardRejected EventType = "RiskGuardRejected"

	// EvtProjectionRebuilt is supplemented scoped to the RebuildProjection
	// handler; it does not replace any canonical event type.
	EvtProjectionRebuilt EventType = "ProjectionRebuilt"
)

// EntityKind tags what an event is about.
type EntityKind string

const (
	EntityOrder    EntityKind = "ORDER"
	EntityTrade    EntityKind = "TRADE"
	EntityPosition EntityKind = "POSITION"
	EntityBalance  EntityKind = "BALANCE"
	EntityEngine   EntityKind = "ENGINE"
	EntityFunding  EntityKind = "FUNDING"
	EntityTransfer EntityKind = "TRANSFER"
	EntityConvert  EntityKind = "CONVERT"
	EntityDeposit  EntityKind = "DEPOSIT"
	EntityWithdraw EntityKind = "WITHDRAW"
	EntityDust     EntityKind = "DUST"
	EntityCapital  EntityKind = "CAPITAL"
)

// ————————————————————————————————————————————————————————————————————————
// Scope, Actor
// ————————————————————————————————————————————————————————————————————————

// Scope is the coordinate tagging every event and command. Symbol is
// optional: engine-wide events (pause/resume, mode change) carry it empty.
type Scope struct {
	Exchange string
	Venue    Venue
	Account  string
	Symbol   string
	Mode     string // TESTNET | PRODUCTION
}

// Actor identifies the originator of a command.
type Actor struct {
	Kind ActorKind
	ID   string
}

// ————————————————————————————————————————————————————————————————————————
// Event, Command
// ————————————————————————————————————————————————————————————————————————

// Event is an immutable fact appended to the event log.
type Event struct {
	Seq           int64
	EventID       string
	EventType     EventType
	TS            time.Time
	CorrelationID string
	CausationID   string
	CommandID     string
	Source        EventSource
	EntityKind    EntityKind
	EntityID      string
	Scope         Scope
	DedupKey      string
	Payload       map[string]any
	CreatedAt     time.Time
}

// Command is a request to act, claimed and executed by the command pipeline.
type Command struct {
	CommandID      string
	CommandType    CommandType
	TS             time.Time
	CorrelationID  string
	CausationID    string
	Actor          Actor
	Scope          Scope
	IdempotencyKey string
	Status         CommandStatus
	Priority       int
	Payload        map[string]any
	Result         map[string]any
	LastError      string
	CreatedAt      time.Time
	UpdatedAt      time.Time
	ClaimedAt      *time.Time
	CompletedAt    *time.Time
}

// ClientOrderID returns the deterministic client order id derived from this
// command's id: "ae-" + command_id.
func (c Command) ClientOrderID() string {
	return "ae-" + c.CommandID
}

// ReduceOnly reports the payload's reduce_only flag, defaulting to false.
func (c Command) ReduceOnly() bool {
	v, ok := c.Payload["reduce_only"].(bool)
	return ok && v
}

// ————————————————————————————————————————————————————————————————————————
// Position / balance snapshots (projection surface)
// ————————————————————————————————————————————————————————————————————————

// Position is the current-state snapshot for a symbol.
type Position struct {
	Symbol        string
	Side          PositionSide
	Qty           decimal.Decimal
	EntryPrice    decimal.Decimal
	UnrealizedPnL decimal.Decimal
	Leverage      int
}

// Balance is the current-state snapshot for one asset in one venue.
type Balance struct {
	Venue  Venue
	Asset  string
	Free   decimal.Decimal
	Locked decimal.Decimal
}

// OpenOrder is a resting order as observed from the projection.
type OpenOrder struct {
	ExchangeOrderID string
	ClientOrderID   string
	Symbol          string
	Side            Side
	Type            OrderType
	Qty             decimal.Decimal
	Price           decimal.Decimal
	ReduceOnly      bool
}

// Bar is a single OHLCV candle.
type Bar struct {
	OpenTime time.Time
	Open     decimal.Decimal
	High     decimal.Decimal
	Low      decimal.Decimal
	Close    decimal.Decimal
	Volume   decimal.Decimal
}

// IsFlat reports whether the position carries no quantity.
func (p Position) IsFlat() bool { return p.Qty.IsZero() }

// IsLong reports whether the position is a non-zero long.
func (p Position) IsLong() bool { return p.Side == PositionLong && !p.Qty.IsZero() }

// IsShort reports whether the position is a non-zero short.
func (p Position) IsShort() bool { return p.Side == PositionShort && !p.Qty.IsZero() }

// Total returns the balance's free plus locked amount.
func (b Balance) Total() decimal.Decimal { return b.Free.Add(b.Locked) }

// ————————————————————————————————————————————————————————————————————————
// Strategy callback events
// ————————————————————————————————————————————————————————————————————————

// TradeEvent is a single fill delivered to a strategy's onTrade callback.
type TradeEvent struct {
	TradeID         string
	OrderID         string
	ClientOrderID   string
	Symbol          string
	Side            Side
	Price           decimal.Decimal
	Quantity        decimal.Decimal
	RealizedPnL     decimal.Decimal
	Commission      decimal.Decimal
	CommissionAsset string
	ReduceOnly      bool
	Timestamp       time.Time
}

// IsBuy reports whether the fill was on the buy side.
func (t TradeEvent) IsBuy() bool { return t.Side == BUY }

// IsSell reports whether the fill was on the sell side.
func (t TradeEvent) IsSell() bool { return t.Side == SELL }

// IsReduce reports whether the fill came from a reduce-only order.
func (t TradeEvent) IsReduce() bool { return t.ReduceOnly }

// IsProfitable reports whether the fill booked positive realized PnL.
func (t TradeEvent) IsProfitable() bool { return t.RealizedPnL.IsPositive() }

// IsCoreOrder reports whether the originating client order id was assigned
// by this engine (the "ae-" prefix), as opposed to an order placed manually
// through the exchange's own UI.
func (t TradeEvent) IsCoreOrder() bool { return strings.HasPrefix(t.ClientOrderID, "ae-") }

// OrderEvent is an order lifecycle transition delivered to a strategy's
// onOrderUpdate callback.
type OrderEvent struct {
	OrderID       string
	ClientOrderID string
	Symbol        string
	Status        OrderStatus
	OrderType     OrderType
	Side          Side
	Price         decimal.Decimal
	StopPrice     decimal.Decimal
	OriginalQty   decimal.Decimal
	ExecutedQty   decimal.Decimal
	AvgPrice      decimal.Decimal
	ReduceOnly    bool
	ClosePosition bool
	Timestamp     time.Time
}

// IsFilled reports whether the order reached a terminal filled state.
func (o OrderEvent) IsFilled() bool { return o.Status == OrderStatusFilled }

// IsCanceled reports whether the order was canceled or expired.
func (o OrderEvent) IsCanceled() bool {
	return o.Status == OrderStatusCanceled || o.Status == OrderStatusExpired
}

// IsStopLoss reports whether this order was a stop-triggered exit.
func (o OrderEvent) IsStopLoss() bool {
	return o.OrderType == OrderTypeStopMarket || o.OrderType == OrderTypeStopLimit
}

// RemainingQty is the quantity not yet executed.
func (o OrderEvent) RemainingQty() decimal.Decimal { return o.OriginalQty.Sub(o.ExecutedQty) }

// IsCoreOrder reports whether the originating client order id was assigned
// by this engine.
func (o OrderEvent) IsCoreOrder() bool { return strings.HasPrefix(o.ClientOrderID, "ae-") }
