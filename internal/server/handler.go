package server

import (
	"github.com/gofiber/fiber/v2"
	"github.com/tmc/langchaingo/llms"

	"rag-corpus/internal/rag"
)

type CheckHandler struct{}

func NewCheckHandler() *CheckHandler {
	return &CheckHandler{}
}

func (h CheckHandler) HandleHealthy(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{"result": "ok"})
}

// RAGHandler serves the query engine. llm is optional and only used by ask.
type RAGHandler struct {
	engine *rag.RAG
	llm    llms.Model
	topK   int
}

func NewRAGHandler(engine *rag.RAG, llm llms.Model, topK int) *RAGHandler {
	return &RAGHandler{engine: engine, llm: llm, topK: topK}
}

func (h *RAGHandler) parseQuery(c *fiber.Ctx) (*QueryRequest, error) {
	var params QueryRequest
	if c.BodyParser(&params) != nil {
		return nil, ErrBadRequest()
	}
	if errors := params.Validate(); len(errors) > 0 {
		return nil, NewValidationError(errors)
	}
	if params.K == 0 {
		params.K = h.topK
	}
	return &params, nil
}

func (h *RAGHandler) HandleQuery(c *fiber.Ctx) error {
	params, err := h.parseQuery(c)
	if err != nil {
		return err
	}
	results, err := h.engine.Query(c.UserContext(), params.Query, params.K)
	if err != nil {
		return err
	}
	return c.JSON(results)
}

func (h *RAGHandler) HandleContext(c *fiber.Ctx) error {
	params, err := h.parseQuery(c)
	if err != nil {
		return err
	}
	text, err := h.engine.GetContext(c.UserContext(), params.Query, params.K)
	if err != nil {
		return err
	}
	return c.JSON(ContextResponse{Query: params.Query, Context: text})
}

func (h *RAGHandler) HandlePage(c *fiber.Ctx) error {
	page, err := c.ParamsInt("page")
	if err != nil || page < 1 {
		return ErrInvalidPage(c.Params("page"))
	}
	return c.JSON(h.engine.SearchByPage(page))
}

func (h *RAGHandler) HandleStats(c *fiber.Ctx) error {
	return c.JSON(h.engine.Stats())
}

func (h *RAGHandler) HandleAsk(c *fiber.Ctx) error {
	if h.llm == nil {
		return ErrUnavailable("no inference llm configured")
	}
	params, err := h.parseQuery(c)
	if err != nil {
		return err
	}
	resp, err := h.engine.Ask(c.UserContext(), h.llm, params.Query, params.K)
	if err != nil {
		return err
	}
	return c.JSON(resp)
}
