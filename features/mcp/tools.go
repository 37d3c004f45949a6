package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"paperqa/features/paper"
	"paperqa/features/qa"
	"paperqa/internal/apperr"
)

type toolFunc func(ctx context.Context, id interface{}, args json.RawMessage) *JSONRPCResponse

type topicArgs struct {
	Topic string `json:"topic"`
}

var toolList = []Tool{
	{
		Name: "search_papers",
		Description: `Fetches the most recent papers on a topic from arXiv, newest first, and stores them for later questions.

USAGE EXAMPLE:
search_papers(topic="graph neural networks")`,
		InputSchema: objectSchema([]string{"topic"}, map[string]interface{}{
			"topic": stringProp("Research topic to search for"),
		}),
	},
	{
		Name: "list_papers",
		Description: `Lists previously fetched papers whose title or summary mentions the topic.

USAGE EXAMPLE:
list_papers(topic="homomorphic encryption")`,
		InputSchema: objectSchema([]string{"topic"}, map[string]interface{}{
			"topic": stringProp("Topic to filter stored papers by"),
		}),
	},
	{
		Name: "answer_question",
		Description: `Answers a question using only the given context, or the summary of a stored paper. Pass either context or paper_id, not both. The answer says so when the context does not contain it.

USAGE EXAMPLES:
answer_question(question="What dataset is used?", context="...")
answer_question(question="What is the main result?", paper_id="2301.07041v1")`,
		InputSchema: objectSchema([]string{"question"}, map[string]interface{}{
			"question": stringProp("The question to answer"),
			"context":  stringProp("Document text to ground the answer in"),
			"paper_id": stringProp("ID of a stored paper whose summary grounds the answer"),
		}),
	},
	{
		Name: "future_directions",
		Description: `Suggests 3-5 future research directions for a topic based on its latest papers, with motivation, potential impact and technical challenges for each.

USAGE EXAMPLE:
future_directions(topic="retrieval augmented generation")`,
		InputSchema: objectSchema([]string{"topic"}, map[string]interface{}{
			"topic": stringProp("Research topic"),
		}),
	},
}

func (h *Handler) tools() map[string]toolFunc {
	return map[string]toolFunc{
		"search_papers":     h.searchPapers,
		"list_papers":       h.listPapers,
		"answer_question":   h.answerQuestion,
		"future_directions": h.futureDirections,
	}
}

func (h *Handler) searchPapers(ctx context.Context, id interface{}, raw json.RawMessage) *JSONRPCResponse {
	var args topicArgs
	if err := json.Unmarshal(raw, &args); err != nil || strings.TrimSpace(args.Topic) == "" {
		resp := makeErrorResponse(id, ErrInvalidParams, "Topic is required")
		return &resp
	}

	papers, err := h.papers.Search(ctx, args.Topic)
	if err != nil {
		slog.ErrorContext(ctx, "search_papers failed", "error", err)
		return textResult(id, "Error: "+apperr.SafeMessage(err), true)
	}
	if len(papers) == 0 {
		return textResult(id, "No papers found.", false)
	}
	return textResult(id, formatPapers(papers), false)
}

func (h *Handler) listPapers(ctx context.Context, id interface{}, raw json.RawMessage) *JSONRPCResponse {
	var args topicArgs
	if err := json.Unmarshal(raw, &args); err != nil || strings.TrimSpace(args.Topic) == "" {
		resp := makeErrorResponse(id, ErrInvalidParams, "Topic is required")
		return &resp
	}

	papers, err := h.papers.ListByTopic(ctx, args.Topic)
	if err != nil {
		slog.ErrorContext(ctx, "list_papers failed", "error", err)
		return textResult(id, "Error: "+apperr.SafeMessage(err), true)
	}
	return textResult(id, formatPapers(papers), false)
}

func (h *Handler) answerQuestion(ctx context.Context, id interface{}, raw json.RawMessage) *JSONRPCResponse {
	var q qa.Query
	if err := json.Unmarshal(raw, &q); err != nil {
		resp := makeErrorResponse(id, ErrInvalidParams, "Invalid arguments")
		return &resp
	}
	if strings.TrimSpace(q.Question) == "" {
		resp := makeErrorResponse(id, ErrInvalidParams, "Question is required")
		return &resp
	}

	res := h.answerer.Ask(ctx, q)
	if !res.OK() {
		slog.ErrorContext(ctx, "answer_question failed", "failed_at", res.FailedAt.String(), "error", res.Err)
	}
	return textResult(id, res.Message(), !res.OK())
}

func (h *Handler) futureDirections(ctx context.Context, id interface{}, raw json.RawMessage) *JSONRPCResponse {
	var args topicArgs
	if err := json.Unmarshal(raw, &args); err != nil || strings.TrimSpace(args.Topic) == "" {
		resp := makeErrorResponse(id, ErrInvalidParams, "Topic is required")
		return &resp
	}

	out, err := h.directions.Generate(ctx, args.Topic)
	if err != nil {
		slog.ErrorContext(ctx, "future_directions failed", "error", err)
		return textResult(id, "Error: "+apperr.SafeMessage(err), true)
	}
	return textResult(id, out, false)
}

func formatPapers(papers []paper.Paper) string {
	var sb strings.Builder
	for i, p := range papers {
		fmt.Fprintf(&sb, "%d. %s\n", i+1, p.Title)
		fmt.Fprintf(&sb, "ID: %s\n", p.ID)
		if len(p.Authors) > 0 {
			fmt.Fprintf(&sb, "Authors: %s\n", strings.Join(p.Authors, ", "))
		}
		if !p.Published.IsZero() {
			fmt.Fprintf(&sb, "Published: %s\n", p.Published.String())
		}
		if p.URL != "" {
			fmt.Fprintf(&sb, "PDF: %s\n", p.URL)
		}
		fmt.Fprintf(&sb, "Summary:\n%s\n---\n", p.Summary)
	}
	sb.WriteString("\nUse answer_question(question=\"...\", paper_id=\"...\") to ask about a paper.\n")
	return sb.String()
}
