package askdbctl

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/askdb/askdb/internal/engine"
)

type Options struct {
	BaseURL    string
	APIKey     string
	UserID     string
	Timeout    time.Duration
	HTTPClient *http.Client
	Stdout     io.Writer
	Stderr     io.Writer
}

// apiCall is one HTTP request derived from a command line.
type apiCall struct {
	method string
	path   string
	body   any
}

var errUsage = errors.New("usage")

func Run(ctx context.Context, args []string, defaults Options) int {
	stdout := defaults.Stdout
	if stdout == nil {
		stdout = io.Discard
	}
	stderr := defaults.Stderr
	if stderr == nil {
		stderr = io.Discard
	}

	fs := flag.NewFlagSet("askdbctl", flag.ContinueOnError)
	fs.SetOutput(stderr)

	baseURL := fs.String("base-url", firstNonEmpty(defaults.BaseURL, "http://localhost:8080"), "askdb API base URL")
	apiKey := fs.String("api-key", defaults.APIKey, "API key or bearer token for authenticated requests")
	userID := fs.String("user-id", defaults.UserID, "X-User-ID header (used when auth is disabled)")
	timeout := fs.Duration("timeout", durationOr(defaults.Timeout, 2*time.Minute), "HTTP timeout (e.g. 90s)")

	if err := fs.Parse(args); err != nil {
		return 2
	}
	if fs.NArg() < 1 {
		writeUsage(stderr)
		return 2
	}

	command := strings.TrimSpace(fs.Arg(0))
	call, err := buildCall(command, fs.Args()[1:], stderr)
	if err != nil {
		if !errors.Is(err, errUsage) {
			_, _ = fmt.Fprintf(stderr, "%s: %v\n\n", command, err)
		}
		writeUsage(stderr)
		return 2
	}

	client := defaults.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: *timeout}
	}

	endpoint := strings.TrimRight(*baseURL, "/") + call.path
	code, responseBody, err := doRequest(ctx, client, call, endpoint, *apiKey, *userID)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "request failed: %v\n", err)
		return 1
	}

	if code >= 400 {
		_, _ = fmt.Fprintf(stderr, "http %d: %s\n", code, strings.TrimSpace(string(responseBody)))
		return 1
	}

	if pretty, ok := prettyJSON(responseBody); ok {
		_, _ = fmt.Fprintln(stdout, pretty)
		return 0
	}
	if len(responseBody) > 0 {
		_, _ = fmt.Fprintln(stdout, string(responseBody))
	}
	return 0
}

func buildCall(command string, args []string, stderr io.Writer) (apiCall, error) {
	sub := flag.NewFlagSet(command, flag.ContinueOnError)
	sub.SetOutput(stderr)

	switch command {
	case "health":
		return apiCall{method: http.MethodGet, path: "/v1/health"}, nil
	case "ready":
		return apiCall{method: http.MethodGet, path: "/v1/ready"}, nil
	case "connections":
		return apiCall{method: http.MethodGet, path: "/v1/connections"}, nil

	case "register":
		engineName := sub.String("engine", "", "mysql or postgresql")
		host := sub.String("host", "", "database host")
		port := sub.Int("port", 0, "database port (defaults to the engine's port)")
		user := sub.String("user", "", "database user")
		password := sub.String("password", "", "database password")
		database := sub.String("database", "", "database name")
		if err := sub.Parse(args); err != nil {
			return apiCall{}, errUsage
		}
		if *port == 0 {
			*port = defaultPort(*engineName)
		}
		return apiCall{method: http.MethodPost, path: "/v1/connections", body: map[string]any{
			"db_type":  *engineName,
			"host":     *host,
			"port":     *port,
			"user":     *user,
			"password": *password,
			"database": *database,
		}}, nil

	case "schema":
		connection := sub.Int64("connection", 0, "connection id")
		if err := sub.Parse(args); err != nil {
			return apiCall{}, errUsage
		}
		if *connection <= 0 {
			return apiCall{}, errors.New("-connection is required")
		}
		return apiCall{method: http.MethodGet, path: fmt.Sprintf("/v1/connections/%d/schema", *connection)}, nil

	case "ask":
		connection := sub.Int64("connection", 0, "connection id")
		question := sub.String("question", "", "natural-language question")
		conversation := sub.Int64("conversation", 0, "conversation id to continue")
		model := sub.String("model", "", "model override")
		if err := sub.Parse(args); err != nil {
			return apiCall{}, errUsage
		}
		if *connection <= 0 {
			return apiCall{}, errors.New("-connection is required")
		}
		if strings.TrimSpace(*question) == "" {
			*question = strings.Join(sub.Args(), " ")
		}
		if strings.TrimSpace(*question) == "" {
			return apiCall{}, errors.New("-question is required")
		}
		body := map[string]any{"connection_id": *connection, "question": *question}
		if *conversation > 0 {
			body["conversation_id"] = *conversation
		}
		if strings.TrimSpace(*model) != "" {
			body["model"] = strings.TrimSpace(*model)
		}
		return apiCall{method: http.MethodPost, path: "/v1/ask", body: body}, nil

	case "conversations":
		connection := sub.Int64("connection", 0, "connection id")
		if err := sub.Parse(args); err != nil {
			return apiCall{}, errUsage
		}
		if *connection <= 0 {
			return apiCall{}, errors.New("-connection is required")
		}
		query := url.Values{"connection_id": []string{strconv.FormatInt(*connection, 10)}}
		return apiCall{method: http.MethodGet, path: "/v1/conversations?" + query.Encode()}, nil

	case "messages", "delete-conversation":
		conversation := sub.Int64("conversation", 0, "conversation id")
		if err := sub.Parse(args); err != nil {
			return apiCall{}, errUsage
		}
		if *conversation <= 0 {
			return apiCall{}, errors.New("-conversation is required")
		}
		if command == "messages" {
			return apiCall{method: http.MethodGet, path: fmt.Sprintf("/v1/conversations/%d/messages", *conversation)}, nil
		}
		return apiCall{method: http.MethodDelete, path: fmt.Sprintf("/v1/conversations/%d", *conversation)}, nil

	case "result":
		message := sub.Int64("message", 0, "assistant message id")
		limit := sub.Int("limit", 0, "page size")
		offset := sub.Int("offset", 0, "row offset")
		if err := sub.Parse(args); err != nil {
			return apiCall{}, errUsage
		}
		if *message <= 0 {
			return apiCall{}, errors.New("-message is required")
		}
		query := url.Values{}
		if *limit > 0 {
			query.Set("limit", strconv.Itoa(*limit))
		}
		if *offset > 0 {
			query.Set("offset", strconv.Itoa(*offset))
		}
		path := fmt.Sprintf("/v1/messages/%d/result", *message)
		if encoded := query.Encode(); encoded != "" {
			path += "?" + encoded
		}
		return apiCall{method: http.MethodGet, path: path}, nil

	default:
		return apiCall{}, fmt.Errorf("unknown command %q", command)
	}
}

func doRequest(ctx context.Context, client *http.Client, call apiCall, endpoint, apiKey, userID string) (int, []byte, error) {
	var body io.Reader
	if call.body != nil {
		payload, err := json.Marshal(call.body)
		if err != nil {
			return 0, nil, fmt.Errorf("encode request body: %w", err)
		}
		body = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, call.method, endpoint, body)
	if err != nil {
		return 0, nil, err
	}
	req.Header.Set("Accept", "application/json")
	if call.body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if key := strings.TrimSpace(apiKey); key != "" {
		// JWTs go in the Authorization header, static keys in X-API-Key.
		if strings.Count(key, ".") == 2 {
			req.Header.Set("Authorization", "Bearer "+key)
		} else {
			req.Header.Set("X-API-Key", key)
		}
	}
	if strings.TrimSpace(userID) != "" {
		req.Header.Set("X-User-ID", strings.TrimSpace(userID))
	}

	resp, err := client.Do(req)
	if err != nil {
		return 0, nil, err
	}
	defer func() { _ = resp.Body.Close() }()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return 0, nil, err
	}
	return resp.StatusCode, respBody, nil
}

func prettyJSON(raw []byte) (string, bool) {
	if len(bytes.TrimSpace(raw)) == 0 {
		return "", false
	}
	var anyValue any
	if err := json.Unmarshal(raw, &anyValue); err != nil {
		return "", false
	}
	formatted, err := json.MarshalIndent(anyValue, "", "  ")
	if err != nil {
		return "", false
	}
	return string(formatted), true
}

func writeUsage(w io.Writer) {
	_, _ = fmt.Fprintln(w, "usage: askdbctl [flags] <command> [command flags]")
	_, _ = fmt.Fprintln(w, "")
	_, _ = fmt.Fprintln(w, "commands:")
	_, _ = fmt.Fprintln(w, "  health                                   GET /v1/health")
	_, _ = fmt.Fprintln(w, "  ready                                    GET /v1/ready")
	_, _ = fmt.Fprintln(w, "  connections                              GET /v1/connections")
	_, _ = fmt.Fprintln(w, "  register -engine -host -port -user -password -database")
	_, _ = fmt.Fprintln(w, "                                           POST /v1/connections")
	_, _ = fmt.Fprintln(w, "  schema -connection                       GET /v1/connections/{id}/schema")
	_, _ = fmt.Fprintln(w, "  ask -connection -question [-conversation] [-model]")
	_, _ = fmt.Fprintln(w, "                                           POST /v1/ask")
	_, _ = fmt.Fprintln(w, "  conversations -connection                GET /v1/conversations")
	_, _ = fmt.Fprintln(w, "  messages -conversation                   GET /v1/conversations/{id}/messages")
	_, _ = fmt.Fprintln(w, "  delete-conversation -conversation        DELETE /v1/conversations/{id}")
	_, _ = fmt.Fprintln(w, "  result -message [-limit] [-offset]       GET /v1/messages/{id}/result")
}

func defaultPort(raw string) int {
	kind, ok := engine.ParseKind(raw)
	if !ok {
		return 0
	}
	return kind.DefaultPort()
}

func firstNonEmpty(a, b string) string {
	if strings.TrimSpace(a) != "" {
		return strings.TrimSpace(a)
	}
	return b
}

func durationOr(v, fallback time.Duration) time.Duration {
	if v > 0 {
		return v
	}
	return fallback
}
