package adapter

import (
	"github.com/hpn/hpn-ernie-router/internal/domain"
	"github.com/hpn/hpn-ernie-router/internal/erniebot"
)

// convertResponse classifies resp and builds the output with newOutput.
// Priority: function call, then plugin metadata, then non-empty search info, then text.
func convertResponse[T any](resp *erniebot.Response, newOutput func(domain.Reply) T) (T, error) {
	reply := domain.Reply{
		TokenUsage: domain.TokenUsage{
			PromptTokens:     resp.Usage.PromptTokens,
			CompletionTokens: resp.Usage.CompletionTokens,
			TotalTokens:      resp.Usage.TotalTokens,
		},
	}

	switch {
	case resp.FunctionCall != nil:
		// Function call replies carry no text.
		reply.FunctionCall = &domain.FunctionCall{
			Name:      resp.FunctionCall.Name,
			Thoughts:  resp.FunctionCall.Thoughts,
			Arguments: resp.FunctionCall.Arguments,
		}

	case resp.HasPluginInfo():
		names := make([]string, 0, len(resp.PluginMetas))
		for _, meta := range resp.PluginMetas {
			names = append(names, meta.PluginNameForModel)
		}
		reply.Content = resp.Result
		reply.PluginInfo = &domain.PluginInfo{Names: names}

	case resp.HasSearchInfo():
		results, err := resp.SearchResults()
		if err != nil {
			var zero T
			return zero, err
		}
		info := &domain.SearchInfo{Results: make([]domain.SearchResult, 0, len(results))}
		for _, r := range results {
			info.Results = append(info.Results, domain.SearchResult{Index: r.Index, URL: r.URL, Title: r.Title})
		}
		reply.Content = resp.Result
		reply.SearchInfo = info

	default:
		reply.Content = resp.Result
	}

	return newOutput(reply), nil
}
