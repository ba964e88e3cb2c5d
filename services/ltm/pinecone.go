package ltm

import (
	"context"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/pinecone-io/go-pinecone/v3/pinecone"
	"github.com/samber/lo"
	"github.com/tmc/langchaingo/embeddings"
	"github.com/tmc/langchaingo/llms/openai"
	"google.golang.org/protobuf/types/known/structpb"
)

const factNamespace = "coursebot-facts"

// PineconeStore keeps facts as embedded vectors in a Pinecone index. Each
// vector carries the conversation id in its metadata; searches are filtered
// to the requesting conversation so facts never leak across users.
type PineconeStore struct {
	client    *pinecone.Client
	embedder  embeddings.Embedder
	indexName string
}

func NewPineconeStore(apiKey, openaiAPIKey, indexName string) (*PineconeStore, error) {
	log.Printf("[INFO] Initializing Pinecone fact store")

	pc, err := pinecone.NewClient(pinecone.NewClientParams{
		ApiKey: apiKey,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create Pinecone client: %w", err)
	}

	llm, err := openai.New(
		openai.WithModel("gpt-4o-mini"),
		openai.WithToken(openaiAPIKey),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create OpenAI client: %w", err)
	}

	embedder, err := embeddings.NewEmbedder(llm)
	if err != nil {
		return nil, fmt.Errorf("failed to create embedder: %w", err)
	}

	return &PineconeStore{
		client:    pc,
		embedder:  embedder,
		indexName: indexName,
	}, nil
}

func (s *PineconeStore) AddFact(ctx context.Context, conversationID, fact string) error {
	fact = strings.TrimSpace(fact)
	if fact == "" {
		return nil
	}

	embedded, err := s.embedder.EmbedDocuments(ctx, []string{fact})
	if err != nil {
		return fmt.Errorf("failed to embed fact: %w", err)
	}

	metadata, err := structpb.NewStruct(map[string]any{
		"conversation_id": conversationID,
		"fact":            fact,
		"ts":              time.Now().Format(time.RFC3339),
	})
	if err != nil {
		return fmt.Errorf("failed to build fact metadata: %w", err)
	}

	vector := &pinecone.Vector{
		Id:       fmt.Sprintf("%s-%s", conversationID, uuid.NewString()),
		Values:   &embedded[0],
		Metadata: metadata,
	}

	idxConn, err := s.connect(ctx)
	if err != nil {
		return err
	}

	if _, err := idxConn.UpsertVectors(ctx, []*pinecone.Vector{vector}); err != nil {
		return fmt.Errorf("failed to upsert fact vector: %w", err)
	}

	log.Printf("[INFO] Stored fact for conversation %s", conversationID)
	return nil
}

func (s *PineconeStore) SearchFacts(ctx context.Context, conversationID, query string, k int) ([]string, error) {
	query = strings.TrimSpace(query)
	if k <= 0 || query == "" {
		return nil, nil
	}

	queryVector, err := s.embedder.EmbedQuery(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to embed query: %w", err)
	}

	idxConn, err := s.connect(ctx)
	if err != nil {
		return nil, err
	}

	// Overfetch, then filter down to this conversation's facts.
	result, err := idxConn.QueryByVectorValues(ctx, &pinecone.QueryByVectorValuesRequest{
		Vector:          queryVector,
		TopK:            uint32(k * 4),
		IncludeValues:   false,
		IncludeMetadata: true,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to query fact vectors: %w", err)
	}

	var facts []string
	for _, match := range result.Matches {
		if match.Vector.Metadata == nil {
			continue
		}
		metadata := match.Vector.Metadata.AsMap()
		if cid, ok := metadata["conversation_id"].(string); !ok || cid != conversationID {
			continue
		}
		if fact, ok := metadata["fact"].(string); ok && fact != "" {
			facts = append(facts, fact)
		}
	}

	facts = lo.Uniq(facts)
	if len(facts) > k {
		facts = facts[:k]
	}
	return facts, nil
}

func (s *PineconeStore) connect(ctx context.Context) (*pinecone.IndexConnection, error) {
	idxDesc, err := s.client.DescribeIndex(ctx, s.indexName)
	if err != nil {
		return nil, fmt.Errorf("failed to describe index: %w", err)
	}

	idxConn, err := s.client.Index(pinecone.NewIndexConnParams{
		Host:      idxDesc.Host,
		Namespace: factNamespace,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create index connection: %w", err)
	}

	return idxConn, nil
}
