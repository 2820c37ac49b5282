package api

import (
	"github.com/gofiber/fiber/v2"

	"docintel/app/agent"
	"docintel/types"
)

const (
	defaultLimit = 3
	maxLimit     = 20
)

type QueryHandler struct {
	retriever *agent.Retriever
	agent     *agent.Agent
}

func NewQueryHandler(retriever *agent.Retriever, chatAgent *agent.Agent) *QueryHandler {
	return &QueryHandler{
		retriever: retriever,
		agent:     chatAgent,
	}
}

// HandleSearch returns the passages most similar to the query, optionally
// scoped to one document. An empty corpus yields an empty list, not an error.
func (h *QueryHandler) HandleSearch(c *fiber.Ctx) error {
	params, err := h.params(c)
	if err != nil {
		return err
	}

	results, err := h.retriever.Search(c.Context(), ownerID(c), params.Query, params.DocumentID, params.Limit)
	if err != nil {
		return err
	}
	return c.JSON(results)
}

// HandleChat answers the query grounded in retrieved passages, with inline
// [n] citations resolving into the returned sources list.
func (h *QueryHandler) HandleChat(c *fiber.Ctx) error {
	params, err := h.params(c)
	if err != nil {
		return err
	}

	answer, err := h.agent.Chat(c.Context(), ownerID(c), params.Query, params.DocumentID, params.Limit)
	if err != nil {
		return err
	}
	return c.JSON(answer)
}

func (h *QueryHandler) params(c *fiber.Ctx) (*types.QueryParams, error) {
	var params types.QueryParams
	if c.BodyParser(&params) != nil {
		return nil, ErrBadRequest()
	}
	if errors := types.Validate(&params); len(errors) > 0 {
		return nil, NewValidationError(errors)
	}

	if params.Limit <= 0 {
		params.Limit = defaultLimit
	}
	if params.Limit > maxLimit {
		params.Limit = maxLimit
	}
	return &params, nil
}
