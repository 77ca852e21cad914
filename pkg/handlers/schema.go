package handlers

import (
	"context"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/ekaya-inc/ekaya-fleetql/pkg/apperrors"
	"github.com/ekaya-inc/ekaya-fleetql/pkg/catalog"
	"github.com/ekaya-inc/ekaya-fleetql/pkg/logging"
	"github.com/ekaya-inc/ekaya-fleetql/pkg/rules"
)

// SchemaCatalog is the part of the catalog the schema endpoints use.
type SchemaCatalog interface {
	Tables() []catalog.Table
	Table(name string) (catalog.Table, bool)
	Refresh(ctx context.Context) error
	LoadedAt() time.Time
}

// SchemaResponse lists the tables questions can be answered from.
type SchemaResponse struct {
	LoadedAt time.Time       `json:"loaded_at"`
	Tables   []catalog.Table `json:"tables"`
}

// SchemaHandler exposes the schema catalog.
type SchemaHandler struct {
	catalog SchemaCatalog
	rules   *rules.RuleSet
	logger  *zap.Logger
}

// NewSchemaHandler creates a schema handler.
func NewSchemaHandler(cat SchemaCatalog, rs *rules.RuleSet, logger *zap.Logger) *SchemaHandler {
	return &SchemaHandler{catalog: cat, rules: rs, logger: logger}
}

// RegisterRoutes registers the schema routes on the given mux.
func (h *SchemaHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /api/schema", h.GetSchema)
	mux.HandleFunc("GET /api/schema/tables/{table}", h.GetTable)
	mux.HandleFunc("POST /api/schema/refresh", h.RefreshSchema)
}

// GetSchema handles GET /api/schema. Banned tables are not listed.
func (h *SchemaHandler) GetSchema(w http.ResponseWriter, r *http.Request) {
	if err := WriteJSON(w, http.StatusOK, h.snapshot()); err != nil {
		h.logger.Error("Failed to encode schema response", zap.Error(err))
	}
}

// GetTable handles GET /api/schema/tables/{table}.
func (h *SchemaHandler) GetTable(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("table")
	t, ok := h.catalog.Table(name)
	if !ok || h.rules.IsBanned(t.QualifiedName()) {
		if err := ErrorResponse(w, http.StatusNotFound, "table_not_found", "No such table"); err != nil {
			h.logger.Error("Failed to write error response", zap.Error(err))
		}
		return
	}
	if err := WriteJSON(w, http.StatusOK, t); err != nil {
		h.logger.Error("Failed to encode table response", zap.Error(err))
	}
}

// RefreshSchema handles POST /api/schema/refresh. A failed refresh keeps
// the previous snapshot.
func (h *SchemaHandler) RefreshSchema(w http.ResponseWriter, r *http.Request) {
	if err := h.catalog.Refresh(r.Context()); err != nil {
		h.logger.Error("Schema refresh failed", zap.String("error", logging.SanitizeError(err)))
		if err := ErrorResponse(w, http.StatusServiceUnavailable, apperrors.KindOf(err).String(), apperrors.UserMessage(err)); err != nil {
			h.logger.Error("Failed to write error response", zap.Error(err))
		}
		return
	}

	resp := h.snapshot()
	h.logger.Info("Schema catalog refreshed", zap.Int("tables", len(resp.Tables)))
	if err := WriteJSON(w, http.StatusOK, resp); err != nil {
		h.logger.Error("Failed to encode schema response", zap.Error(err))
	}
}

func (h *SchemaHandler) snapshot() SchemaResponse {
	all := h.catalog.Tables()
	tables := make([]catalog.Table, 0, len(all))
	for _, t := range all {
		if !h.rules.IsBanned(t.QualifiedName()) {
			tables = append(tables, t)
		}
	}
	return SchemaResponse{LoadedAt: h.catalog.LoadedAt(), Tables: tables}
}
