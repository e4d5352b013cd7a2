package http

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/alekitto/zephir-go/internal/domain/auth"
	"github.com/alekitto/zephir-go/internal/domain/policy"
)

// tracer reports spans around the decision path: Decide itself draws
// in the store lookup, policy compilation, and any scripted condition
// evaluation, so one span per request is enough to see where time
// goes without threading a tracer through every adapter.
var tracer = otel.Tracer("github.com/alekitto/zephir-go/internal/adapter/inbound/http")

// DecisionHandler serves spec §6's HTTP surface: the `/allowed`
// decision endpoint and the policy/identity/group CRUD endpoints.
type DecisionHandler struct {
	store    policy.PolicyStore
	compiler policy.Compiler
	cache    policy.CompiledPolicyCache
	scripts  policy.ScriptEvaluator
	apiKeys  *auth.APIKeyService
	metrics  *Metrics
	logger   *slog.Logger
}

// NewDecisionHandler constructs a DecisionHandler. authStore may be nil,
// in which case the admin CRUD endpoints accept any caller (dev mode).
func NewDecisionHandler(store policy.PolicyStore, compiler policy.Compiler, cache policy.CompiledPolicyCache, scripts policy.ScriptEvaluator, authStore auth.AuthStore, metrics *Metrics, logger *slog.Logger) *DecisionHandler {
	if logger == nil {
		logger = slog.Default()
	}
	var apiKeys *auth.APIKeyService
	if authStore != nil {
		apiKeys = auth.NewAPIKeyService(authStore)
	}
	return &DecisionHandler{store: store, compiler: compiler, cache: cache, scripts: scripts, apiKeys: apiKeys, metrics: metrics, logger: logger}
}

// Routes registers spec §6's endpoints on mux.
func (h *DecisionHandler) Routes(mux *http.ServeMux) {
	mux.HandleFunc("POST /allowed", h.handleAllowed)

	mux.HandleFunc("POST /policies", h.requireAdmin(h.handleUpsertPolicy))
	mux.HandleFunc("GET /policy/{id}", h.requireAdmin(h.handleGetPolicy))

	mux.HandleFunc("POST /identities", h.requireAdmin(h.handleUpsertIdentity))
	mux.HandleFunc("GET /identity/{id}", h.requireAdmin(h.handleGetIdentity))

	mux.HandleFunc("POST /groups", h.requireAdmin(h.handleUpsertGroup))
	mux.HandleFunc("GET /group/{id}", h.requireAdmin(h.handleGetGroup))
	mux.HandleFunc("GET /group/{id}/identities", h.requireAdmin(h.handleListGroupIdentities))
	mux.HandleFunc("PATCH /group/{id}/identities", h.requireAdmin(h.handlePatchGroupIdentities))
}

// requireAdmin gates the policy/identity/group management endpoints
// behind a bearer API key resolved through authStore, and requires the
// resolved identity to carry auth.RoleAdmin — a valid, unexpired,
// unrevoked key for a non-admin identity still gets StatusForbidden.
// When authStore is nil, the gate is a no-op (local/dev wiring).
func (h *DecisionHandler) requireAdmin(next http.HandlerFunc) http.HandlerFunc {
	if h.apiKeys == nil {
		return next
	}
	return func(w http.ResponseWriter, r *http.Request) {
		rawKey, _ := r.Context().Value(APIKeyContextKey).(string)
		if rawKey == "" {
			h.respondError(w, http.StatusUnauthorized, "missing bearer API key")
			return
		}
		identity, err := h.apiKeys.Validate(r.Context(), rawKey)
		if err != nil {
			h.respondError(w, http.StatusUnauthorized, "invalid API key")
			return
		}
		if !identity.HasRole(auth.RoleAdmin) {
			h.respondError(w, http.StatusForbidden, "identity lacks the admin role")
			return
		}
		next(w, r)
	}
}

// --- /allowed ---

type allowedRequestEnvelope struct {
	Subject  string         `json:"subject"`
	Action   string         `json:"action"`
	Resource *string        `json:"resource"`
	Context  map[string]any `json:"-"`
}

// handleAllowed implements `POST /allowed`: the decision entry point.
// Per spec §6, the request body is `{subject, action, resource?,
// ...context}` — subject/action/resource are pulled out, everything
// else in the object becomes the request-context passed to condition
// evaluation.
func (h *DecisionHandler) handleAllowed(w http.ResponseWriter, r *http.Request) {
	var raw map[string]any
	if err := json.NewDecoder(r.Body).Decode(&raw); err != nil {
		h.respondError(w, http.StatusBadRequest, "malformed JSON body")
		return
	}

	subject, _ := raw["subject"].(string)
	action, _ := raw["action"].(string)
	if subject == "" || action == "" {
		h.respondError(w, http.StatusBadRequest, "subject and action are required")
		return
	}
	var resource *string
	if rv, ok := raw["resource"].(string); ok {
		resource = &rv
	}
	delete(raw, "subject")
	delete(raw, "action")
	delete(raw, "resource")

	ctx, span := tracer.Start(r.Context(), "policy.Decide",
		trace.WithAttributes(attribute.String("subject", subject), attribute.String("action", action)))
	defer span.End()

	result, err := policy.Decide(ctx, h.store, h.compiler, h.scripts, subject, action, resource, raw)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		h.logger.Error("decision failed", "subject", subject, "action", action, "error", err)
		h.respondError(w, http.StatusInternalServerError, "internal error")
		return
	}
	span.SetAttributes(attribute.String("outcome", result.Outcome().String()))

	status := http.StatusOK
	if result.Outcome() == policy.Denied {
		status = http.StatusForbidden
	}
	if h.metrics != nil {
		h.metrics.DecisionsTotal.WithLabelValues(result.Outcome().String()).Inc()
	}
	h.respondJSON(w, status, result)
}

// --- policies ---

type policyBody struct {
	ID         string          `json:"id" validate:"required"`
	Version    int             `json:"version"`
	Effect     string          `json:"effect" validate:"omitempty,oneof=ALLOW DENY"`
	Actions    []string        `json:"actions" validate:"required,min=1"`
	Resources  []string        `json:"resources"`
	Conditions json.RawMessage `json:"conditions"`
}

func (h *DecisionHandler) handleUpsertPolicy(w http.ResponseWriter, r *http.Request) {
	var body policyBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		h.respondError(w, http.StatusBadRequest, "malformed JSON body")
		return
	}
	if err := bodyValidator.Struct(body); err != nil {
		h.respondError(w, http.StatusBadRequest, formatValidationErrors(err).Error())
		return
	}

	p, err := policyFromBody(body)
	if err != nil {
		h.respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	if err := h.store.SavePolicy(r.Context(), p); err != nil {
		h.logger.Error("save policy failed", "id", p.ID, "error", err)
		h.respondError(w, http.StatusInternalServerError, "internal error")
		return
	}
	_ = h.cache.Flush(r.Context(), p.ID)

	h.respondJSON(w, http.StatusOK, p)
}

func (h *DecisionHandler) handleGetPolicy(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	p, err := h.store.FindPolicy(r.Context(), id)
	if err != nil {
		h.respondNotFoundOrError(w, err, "policy")
		return
	}
	h.respondJSON(w, http.StatusOK, p)
}

func policyFromBody(b policyBody) (*policy.CompletePolicy, error) {
	effect := policy.EffectAllow
	switch b.Effect {
	case "ALLOW", "":
		effect = policy.EffectAllow
	case "DENY":
		effect = policy.EffectDeny
	default:
		return nil, errors.New("effect must be ALLOW or DENY")
	}
	version := policy.VersionV1
	if b.Version != 0 && b.Version != int(policy.VersionV1) {
		return nil, errors.New("unknown policy version")
	}
	return policy.NewCompletePolicy(b.ID, version, effect, b.Actions, b.Resources, b.Conditions)
}

// --- identities ---

type identityBody struct {
	ID              string      `json:"id" validate:"required"`
	InlinePolicy    *policyBody `json:"inline_policy" validate:"omitempty"`
	LinkedPolicyIDs []string    `json:"linked_policy_ids"`
}

func (h *DecisionHandler) handleUpsertIdentity(w http.ResponseWriter, r *http.Request) {
	var body identityBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		h.respondError(w, http.StatusBadRequest, "malformed JSON body")
		return
	}
	if err := bodyValidator.Struct(body); err != nil {
		h.respondError(w, http.StatusBadRequest, formatValidationErrors(err).Error())
		return
	}

	identity := policy.NewIdentity(body.ID)
	if body.InlinePolicy != nil {
		p, err := policyFromBody(*body.InlinePolicy)
		if err != nil {
			h.respondError(w, http.StatusBadRequest, err.Error())
			return
		}
		identity.SetInlinePolicy(p)
	}
	for _, pid := range body.LinkedPolicyIDs {
		p, err := h.store.FindPolicy(r.Context(), pid)
		if err != nil {
			h.respondNotFoundOrError(w, err, "linked policy "+pid)
			return
		}
		identity.AddLinkedPolicy(p)
	}

	if err := h.store.SaveIdentity(r.Context(), identity); err != nil {
		h.logger.Error("save identity failed", "id", identity.ID, "error", err)
		h.respondError(w, http.StatusInternalServerError, "internal error")
		return
	}

	h.respondJSON(w, http.StatusOK, identity)
}

func (h *DecisionHandler) handleGetIdentity(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	identity, err := h.store.FindIdentity(r.Context(), id)
	if err != nil {
		h.respondNotFoundOrError(w, err, "identity")
		return
	}
	h.respondJSON(w, http.StatusOK, identity)
}

// --- groups ---

type groupBody struct {
	Name            string      `json:"name" validate:"required"`
	InlinePolicy    *policyBody `json:"inline_policy" validate:"omitempty"`
	LinkedPolicyIDs []string    `json:"linked_policy_ids"`
}

func (h *DecisionHandler) handleUpsertGroup(w http.ResponseWriter, r *http.Request) {
	var body groupBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		h.respondError(w, http.StatusBadRequest, "malformed JSON body")
		return
	}
	if err := bodyValidator.Struct(body); err != nil {
		h.respondError(w, http.StatusBadRequest, formatValidationErrors(err).Error())
		return
	}

	existing, err := h.store.FindGroup(r.Context(), body.Name)
	var group *policy.Group
	if err == nil {
		group = existing
	} else if errors.Is(err, policy.ErrNotFound) {
		group = policy.NewGroup(body.Name)
	} else {
		h.respondError(w, http.StatusInternalServerError, "internal error")
		return
	}

	if body.InlinePolicy != nil {
		p, err := policyFromBody(*body.InlinePolicy)
		if err != nil {
			h.respondError(w, http.StatusBadRequest, err.Error())
			return
		}
		group.SetInlinePolicy(p)
	}
	for _, pid := range body.LinkedPolicyIDs {
		p, err := h.store.FindPolicy(r.Context(), pid)
		if err != nil {
			h.respondNotFoundOrError(w, err, "linked policy "+pid)
			return
		}
		group.AddLinkedPolicy(p)
	}

	if err := h.store.SaveGroup(r.Context(), group); err != nil {
		h.logger.Error("save group failed", "name", group.Name, "error", err)
		h.respondError(w, http.StatusInternalServerError, "internal error")
		return
	}

	h.respondJSON(w, http.StatusOK, group)
}

func (h *DecisionHandler) handleGetGroup(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("id")
	group, err := h.store.FindGroup(r.Context(), name)
	if err != nil {
		h.respondNotFoundOrError(w, err, "group")
		return
	}
	h.respondJSON(w, http.StatusOK, group)
}

func (h *DecisionHandler) handleListGroupIdentities(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("id")
	group, err := h.store.FindGroup(r.Context(), name)
	if err != nil {
		h.respondNotFoundOrError(w, err, "group")
		return
	}
	h.respondJSON(w, http.StatusOK, group.IdentityIDs())
}

type groupIdentityPatch struct {
	Operation string `json:"operation"` // "add" | "remove"
	Identity  string `json:"identity"`
}

func (h *DecisionHandler) handlePatchGroupIdentities(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("id")
	var patch groupIdentityPatch
	if err := json.NewDecoder(r.Body).Decode(&patch); err != nil {
		h.respondError(w, http.StatusBadRequest, "malformed JSON body")
		return
	}

	group, err := h.store.FindGroup(r.Context(), name)
	if err != nil {
		h.respondNotFoundOrError(w, err, "group")
		return
	}

	switch patch.Operation {
	case "add":
		identity, err := h.store.FindIdentity(r.Context(), patch.Identity)
		if err != nil {
			h.respondNotFoundOrError(w, err, "identity")
			return
		}
		group.AddIdentity(identity)
	case "remove":
		group.RemoveIdentity(patch.Identity)
	default:
		h.respondError(w, http.StatusBadRequest, `operation must be "add" or "remove"`)
		return
	}

	if err := h.store.SaveGroup(r.Context(), group); err != nil {
		h.logger.Error("save group failed", "name", group.Name, "error", err)
		h.respondError(w, http.StatusInternalServerError, "internal error")
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// --- JSON helpers ---

func (h *DecisionHandler) respondJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.logger.Error("failed to encode JSON response", "error", err)
	}
}

func (h *DecisionHandler) respondError(w http.ResponseWriter, status int, message string) {
	h.respondJSON(w, status, map[string]string{"error": message})
}

func (h *DecisionHandler) respondNotFoundOrError(w http.ResponseWriter, err error, what string) {
	if errors.Is(err, policy.ErrNotFound) {
		h.respondError(w, http.StatusNotFound, what+" not found")
		return
	}
	h.logger.Error("store error", "error", err)
	h.respondError(w, http.StatusInternalServerError, "internal error")
}
