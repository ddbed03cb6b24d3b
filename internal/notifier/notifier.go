// Package notifier pushes wallet balance changes to connected websocket clients.
package notifier

import (
	"encoding/json"
	"sync"
	"time"

	"settlement-service/internal/domain"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const writeWait = 10 * time.Second

type Message struct {
	Type string      `json:"type"`
	Data interface{} `json:"data"`
}

// Conn is the part of *websocket.Conn the notifier writes through.
type Conn interface {
	SetWriteDeadline(t time.Time) error
	WriteMessage(messageType int, data []byte) error
	Close() error
}

// client serializes writes to one socket; websocket connections allow a
// single concurrent writer.
type client struct {
	conn Conn
	mu   sync.Mutex
}

func (c *client) write(payload []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
	return c.conn.WriteMessage(websocket.TextMessage, payload)
}

type Notifier struct {
	clients map[string]map[Conn]*client
	mu      sync.Mutex
	logger  *zap.Logger
}

func NewNotifier(logger *zap.Logger) *Notifier {
	return &Notifier{
		clients: make(map[string]map[Conn]*client),
		logger:  logger,
	}
}

func (n *Notifier) RegisterConnection(userID string, conn Conn) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.clients[userID] == nil {
		n.clients[userID] = make(map[Conn]*client)
	}
	n.clients[userID][conn] = &client{conn: conn}
}

func (n *Notifier) UnregisterConnection(userID string, conn Conn) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if conns, ok := n.clients[userID]; ok {
		delete(conns, conn)
		conn.Close()
		if len(conns) == 0 {
			delete(n.clients, userID)
		}
	}
}

func (n *Notifier) Connections(userID string) int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.clients[userID])
}

// NotifyBalance sends the post-mutation balance and the transaction that caused it.
func (n *Notifier) NotifyBalance(userID string, wallet *domain.Wallet, tx *domain.WalletTransaction) {
	data := map[string]interface{}{
		"user_id":   userID,
		"wallet_id": wallet.ID,
		"balance":   wallet.Balance,
		"currency":  wallet.Currency,
	}
	if tx != nil {
		data["transaction"] = map[string]interface{}{
			"id":        tx.ID,
			"type":      tx.Type,
			"direction": tx.Direction,
			"amount":    tx.Amount,
		}
	}
	n.send(userID, Message{Type: "balance_update", Data: data})
}

func (n *Notifier) NotifyInitial(userID string, wallet *domain.Wallet) {
	n.send(userID, Message{Type: "initial_data", Data: map[string]interface{}{
		"wallet_id": wallet.ID,
		"balance":   wallet.Balance,
		"currency":  wallet.Currency,
	}})
}

func (n *Notifier) NotifyPayment(userID string, payment *domain.PaymentTransaction) {
	n.send(userID, Message{Type: "payment_update", Data: map[string]interface{}{
		"transaction_id": payment.ID,
		"provider":       payment.Provider,
		"status":         payment.Status,
		"amount":         payment.Amount,
		"currency":       payment.Currency,
	}})
}

// send writes outside the registry lock so a slow socket only holds up its
// own user's notifications.
func (n *Notifier) send(userID string, msg Message) {
	n.mu.Lock()
	targets := make([]*client, 0, len(n.clients[userID]))
	for _, c := range n.clients[userID] {
		targets = append(targets, c)
	}
	n.mu.Unlock()
	if len(targets) == 0 {
		return
	}

	payload, err := json.Marshal(msg)
	if err != nil {
		n.logger.Error("failed to marshal ws message", zap.Error(err), zap.String("type", msg.Type))
		return
	}

	for _, c := range targets {
		if err := c.write(payload); err != nil {
			n.logger.Debug("dropping ws client",
				zap.String("user_id", userID),
				zap.String("type", msg.Type),
				zap.Error(err))
			n.UnregisterConnection(userID, c.conn)
		}
	}
}
