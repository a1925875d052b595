package dataapi

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/machinebox/graphql"

	"github.com/starford/notebox/internal/apperr"
	"github.com/starford/notebox/internal/models"
)

const (
	listNotesQuery = `query ListNotes {
  listNotes {
    items {
      id
      name
      description
      image
    }
  }
}`

	createNoteMutation = `mutation CreateNote($input: CreateNoteInput!) {
  createNote(input: $input) {
    id
    name
    description
    image
  }
}`

	deleteNoteMutation = `mutation DeleteNote($input: DeleteNoteInput!) {
  deleteNote(input: $input) {
    id
  }
}`
)

// conditionalCheckFailed is the DynamoDB error code behind AppSync's
// "DynamoDB:ConditionalCheckFailedException" errorType, returned when
// deleteNote targets a missing item.
const conditionalCheckFailed = "ConditionalCheckFailedException"

// isConditionalCheckFailed reports a delete of a missing item. The client
// only exposes the first error's message, not its errorType extension, so
// the match is on the "Error Code: ..." part AppSync copies into the message.
func isConditionalCheckFailed(err error) bool {
	msg := err.Error()
	return strings.Contains(msg, "Error Code: "+conditionalCheckFailed) ||
		strings.Contains(msg, "DynamoDB:"+conditionalCheckFailed)
}

type gqlNote struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
	Image       string `json:"image"`
}

func (n gqlNote) toModel() models.Note {
	return models.Note{
		ID:          n.ID,
		Name:        n.Name,
		Description: n.Description,
		Image:       n.Image,
	}
}

// GraphQL talks to a hosted GraphQL endpoint exposing the Note model.
type GraphQL struct {
	client *graphql.Client
	apiKey string
}

// GraphQLOption configures a GraphQL backend.
type GraphQLOption func(*graphQLOptions)

type graphQLOptions struct {
	httpClient *http.Client
	apiKey     string
}

// WithHTTPClient overrides the HTTP client used for requests.
func WithHTTPClient(c *http.Client) GraphQLOption {
	return func(o *graphQLOptions) { o.httpClient = c }
}

// WithAPIKey sends the key in the x-api-key header of every request.
func WithAPIKey(key string) GraphQLOption {
	return func(o *graphQLOptions) { o.apiKey = key }
}

// NewGraphQL creates a backend for the given endpoint.
func NewGraphQL(endpoint string, opts ...GraphQLOption) *GraphQL {
	o := graphQLOptions{httpClient: &http.Client{Timeout: 30 * time.Second}}
	for _, opt := range opts {
		opt(&o)
	}
	return &GraphQL{
		client: graphql.NewClient(endpoint, graphql.WithHTTPClient(o.httpClient)),
		apiKey: o.apiKey,
	}
}

func (g *GraphQL) newRequest(doc string) *graphql.Request {
	req := graphql.NewRequest(doc)
	if g.apiKey != "" {
		req.Header.Set("x-api-key", g.apiKey)
	}
	return req
}

// List runs the listNotes query.
func (g *GraphQL) List(ctx context.Context) ([]models.Note, error) {
	var resp struct {
		ListNotes struct {
			Items []*gqlNote `json:"items"`
		} `json:"listNotes"`
	}
	if err := g.client.Run(ctx, g.newRequest(listNotesQuery), &resp); err != nil {
		return nil, fmt.Errorf("dataapi: list notes: %w", err)
	}
	out := make([]models.Note, 0, len(resp.ListNotes.Items))
	for _, item := range resp.ListNotes.Items {
		// AppSync returns null entries for items the caller may not read.
		if item == nil {
			continue
		}
		out = append(out, item.toModel())
	}
	return out, nil
}

// Create runs the createNote mutation.
func (g *GraphQL) Create(ctx context.Context, in models.NoteInput) (models.Note, error) {
	req := g.newRequest(createNoteMutation)
	req.Var("input", in)

	var resp struct {
		CreateNote *gqlNote `json:"createNote"`
	}
	if err := g.client.Run(ctx, req, &resp); err != nil {
		return models.Note{}, fmt.Errorf("dataapi: create note %q: %w", in.Name, err)
	}
	if resp.CreateNote == nil {
		return models.Note{}, fmt.Errorf("dataapi: create note %q: empty response", in.Name)
	}
	return resp.CreateNote.toModel(), nil
}

// Delete runs the deleteNote mutation.
func (g *GraphQL) Delete(ctx context.Context, id string) error {
	req := g.newRequest(deleteNoteMutation)
	req.Var("input", map[string]string{"id": id})

	var resp struct {
		DeleteNote *struct {
			ID string `json:"id"`
		} `json:"deleteNote"`
	}
	if err := g.client.Run(ctx, req, &resp); err != nil {
		if isConditionalCheckFailed(err) {
			return fmt.Errorf("dataapi: delete note %s: %w", id, apperr.ErrNotFound)
		}
		return fmt.Errorf("dataapi: delete note %s: %w", id, err)
	}
	if resp.DeleteNote == nil {
		return fmt.Errorf("dataapi: delete note %s: %w", id, apperr.ErrNotFound)
	}
	return nil
}
