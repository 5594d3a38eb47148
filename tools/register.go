package tools

import (
	"net/http"

	"github.com/evolvai/evolv/core"
	"github.com/evolvai/evolv/registry"
)

// RegisterBuiltins registers the built-in tools under their task-type
// categories. llm may be nil: text_generate is then skipped.
func RegisterBuiltins(reg *registry.Registry, llm core.LLMClient, model string, client *http.Client) error {
	if err := reg.Register(NewHTTPFetch(client), "search", "network", "api"); err != nil {
		return err
	}
	if llm != nil {
		if err := reg.Register(NewTextGenerate(llm, model), "generate", "llm"); err != nil {
			return err
		}
	}
	return reg.Register(NewTransform(), "analyze", "compute")
}
