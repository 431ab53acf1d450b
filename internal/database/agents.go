package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

// Agent is a persisted agent record.
type Agent struct {
	ID                   string `db:"id" json:"id"`
	Name                 string `db:"name" json:"name"`
	Description          string `db:"description" json:"description,omitempty"`
	Status               string `db:"status" json:"status"`
	DefaultEngineID      string `db:"default_engine_id" json:"default_engine_id,omitempty"`
	RequiredCapabilities string `db:"required_capabilities" json:"required_capabilities"`
	Metadata             string `db:"metadata" json:"metadata"`
	Enabled              bool   `db:"enabled" json:"enabled"`
}

// ErrAgentNotFound is returned for unknown agent ids.
var ErrAgentNotFound = errors.New("agent not found")

const agentColumns = `id, name, description, status, default_engine_id, required_capabilities, metadata, enabled`

// AgentByID reads one agent.
func (s *DB) AgentByID(ctx context.Context, id string) (Agent, error) {
	var a Agent
	query := s.rebind(`SELECT ` + agentColumns + ` FROM agents WHERE id = ?`)
	err := s.db.GetContext(ctx, &a, query, id)
	if errors.Is(err, sql.ErrNoRows) {
		return Agent{}, ErrAgentNotFound
	}
	if err != nil {
		return Agent{}, fmt.Errorf("read agent %s: %w", id, err)
	}
	return a, nil
}

// Agents lists all agents.
func (s *DB) Agents(ctx context.Context) ([]Agent, error) {
	var agents []Agent
	query := `SELECT ` + agentColumns + ` FROM agents ORDER BY id`
	if err := s.db.SelectContext(ctx, &agents, query); err != nil {
		return nil, fmt.Errorf("list agents: %w", err)
	}
	return agents, nil
}

// SaveAgent upserts an agent record.
func (s *DB) SaveAgent(ctx context.Context, a Agent) error {
	query := s.rebind(s.upsertQuery("agents",
		[]string{"id", "name", "description", "status", "default_engine_id", "required_capabilities", "metadata", "enabled"},
		[]string{"id"}))
	_, err := s.db.ExecContext(ctx, query,
		a.ID, a.Name, a.Description, a.Status, a.DefaultEngineID, a.RequiredCapabilities, a.Metadata, a.Enabled)
	if err != nil {
		return fmt.Errorf("save agent %s: %w", a.ID, err)
	}
	return nil
}

// SetAgentStatus updates an agent's status field.
func (s *DB) SetAgentStatus(ctx context.Context, id, status string) error {
	query := s.rebind(`UPDATE agents SET status = ? WHERE id = ?`)
	res, err := s.db.ExecContext(ctx, query, status, id)
	if err != nil {
		return fmt.Errorf("set agent %s status: %w", id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrAgentNotFound
	}
	return nil
}
