package tools

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"

	"github.com/harunnryd/elara/pkg/llm"
)

type appScheme struct {
	scheme string
	search string
}

// appSchemes maps app names to their deep link schemes. The search
// form, when present, carries the query through {q}.
var appSchemes = map[string]appScheme{
	"youtube":   {scheme: "youtube://", search: "youtube://results?search_query={q}"},
	"instagram": {scheme: "instagram://"},
	"spotify":   {scheme: "spotify://", search: "spotify:search:{q}"},
	"maps":      {scheme: "maps://", search: "maps://?q={q}"},
	"waze":      {scheme: "waze://", search: "waze://?q={q}&navigate=yes"},
	"whatsapp":  {scheme: "whatsapp://"},
	"uber":      {scheme: "uber://"},
	"netflix":   {scheme: "netflix://"},
	"twitter":   {scheme: "twitter://"},
	"tiktok":    {scheme: "snssdk1233://"},
	"safari":    {scheme: "https://"},
}

// OpenAppTool resolves an app name to a deep link the client opens.
type OpenAppTool struct{}

func (OpenAppTool) Definition() llm.Tool {
	return llm.Tool{
		Name:        "open_app",
		Description: "Open an application on the user's phone (YouTube, Spotify, Maps, etc.)",
		Schema: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"app":   map[string]any{"type": "string", "description": "App name (youtube, spotify, maps, whatsapp, etc.)"},
				"query": map[string]any{"type": "string", "description": "Search or destination (optional)"},
			},
			"required": []string{"app"},
		},
	}
}

type openAppArgs struct {
	App   string `mapstructure:"app"`
	Query string `mapstructure:"query"`
}

func (OpenAppTool) Handle(ctx context.Context, args map[string]any) (Result, error) {
	var a openAppArgs
	if err := decodeArgs(args, &a); err != nil {
		return Result{}, err
	}
	name := strings.ToLower(strings.TrimSpace(a.App))
	if name == "" {
		return Result{}, errors.New("missing app")
	}
	app, ok := appSchemes[name]
	if !ok {
		return Result{Text: fmt.Sprintf("I don't know how to open %q.", name)}, nil
	}
	link := app.scheme
	if a.Query != "" && app.search != "" {
		link = strings.ReplaceAll(app.search, "{q}", url.QueryEscape(a.Query))
	}
	return Result{
		Text:       fmt.Sprintf("Opening %s.", name),
		SideEffect: &SideEffect{Kind: SideEffectOpenURL, URL: link},
	}, nil
}

// OpenURLTool opens an arbitrary URL on the client.
type OpenURLTool struct{}

func (OpenURLTool) Definition() llm.Tool {
	return llm.Tool{
		Name:        "open_url",
		Description: "Open a web page on the user's phone",
		Schema: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"url": map[string]any{"type": "string", "description": "Full URL to open"},
			},
			"required": []string{"url"},
		},
	}
}

type openURLArgs struct {
	URL string `mapstructure:"url"`
}

func (OpenURLTool) Handle(ctx context.Context, args map[string]any) (Result, error) {
	var a openURLArgs
	if err := decodeArgs(args, &a); err != nil {
		return Result{}, err
	}
	if strings.TrimSpace(a.URL) == "" {
		return Result{}, errors.New("missing url")
	}
	u, err := url.Parse(a.URL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") {
		return Result{Text: fmt.Sprintf("Cannot open URL: %s", a.URL)}, nil
	}
	return Result{
		Text:       "Opening the page.",
		SideEffect: &SideEffect{Kind: SideEffectOpenURL, URL: a.URL},
	}, nil
}

// WebSearchTool is declared so the model can ask for it, but search has
// no backing provider yet.
type WebSearchTool struct{}

func (WebSearchTool) Definition() llm.Tool {
	return llm.Tool{
		Name:        "web_search",
		Description: "Search the web for recent information",
		Schema: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"query": map[string]any{"type": "string", "description": "Search query"},
			},
			"required": []string{"query"},
		},
	}
}

func (WebSearchTool) Handle(ctx context.Context, args map[string]any) (Result, error) {
	query, _ := args["query"].(string)
	return Result{Text: fmt.Sprintf("Web search for %q is not available yet.", query)}, nil
}
