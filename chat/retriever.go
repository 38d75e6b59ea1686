package chat

import (
	"context"
	"fmt"

	"github.com/tmc/langchaingo/schema"
)

// Retriever returns passages relevant to a query, most relevant first
type Retriever interface {
	Retrieve(ctx context.Context, query string) ([]string, error)
}

// RetrieverFunc adapts a function to Retriever
type RetrieverFunc func(ctx context.Context, query string) ([]string, error)

func (f RetrieverFunc) Retrieve(ctx context.Context, query string) ([]string, error) {
	return f(ctx, query)
}

// NoRetriever never returns passages
type NoRetriever struct{}

func (NoRetriever) Retrieve(context.Context, string) ([]string, error) {
	return nil, nil
}

// LangchainRetriever adapts a langchaingo retriever, such as a vector store
// via vectorstores.ToRetriever, to Retriever
type LangchainRetriever struct {
	Retriever schema.Retriever
}

func NewLangchainRetriever(r schema.Retriever) *LangchainRetriever {
	return &LangchainRetriever{Retriever: r}
}

func (r *LangchainRetriever) Retrieve(ctx context.Context, query string) ([]string, error) {
	docs, err := r.Retriever.GetRelevantDocuments(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to retrieve documents: %w", err)
	}
	passages := make([]string, 0, len(docs))
	for _, doc := range docs {
		passages = append(passages, doc.PageContent)
	}
	return passages, nil
}
