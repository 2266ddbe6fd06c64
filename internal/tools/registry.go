package tools

import (
	"github.com/ChamsBouzaiene/phidelta/internal/engine"
	"github.com/ChamsBouzaiene/phidelta/internal/memory"
	"github.com/ChamsBouzaiene/phidelta/internal/retrieval"
	"github.com/ChamsBouzaiene/phidelta/internal/sandbox"
	"github.com/ChamsBouzaiene/phidelta/internal/tools/compute"
	"github.com/ChamsBouzaiene/phidelta/internal/tools/papers"
	"github.com/ChamsBouzaiene/phidelta/internal/tools/rag"
	"github.com/ChamsBouzaiene/phidelta/internal/tools/search"
)

// ToolSet selects which tool groups go into a registry.
type ToolSet struct {
	Web     bool // web_search
	Papers  bool // arxiv_search, download_papers
	Rag     bool // rag_search, list_directory
	Wolfram bool // wolfram_query
	Code    bool // run_python
}

// AgenticSet is the full tool surface available to plan execution.
func AgenticSet() ToolSet {
	return ToolSet{Web: true, Papers: true, Rag: true, Wolfram: true, Code: true}
}

// RetrievalSet is the narrow surface used when probing local documents.
func RetrievalSet() ToolSet {
	return ToolSet{Rag: true}
}

// Deps carries the collaborators tools are built over.
type Deps struct {
	Memory   *memory.Memory
	Store    retrieval.Store
	Runner   sandbox.Runner
	DocsRoot string
	PaperDir string
}

// NewToolRegistry creates an engine.ToolRegistry for the given set.
func NewToolRegistry(deps Deps, set ToolSet) engine.ToolRegistry {
	reg := make(engine.ToolRegistry)

	if set.Web {
		reg["web_search"] = search.NewWebSearchTool(deps.Memory)
	}

	if set.Papers {
		reg["arxiv_search"] = search.NewArxivSearchTool(deps.Memory)
		reg["download_papers"] = papers.NewDownloadTool(deps.Memory, deps.PaperDir)
	}

	if set.Rag {
		reg["rag_search"] = rag.NewSearchTool(deps.Store)
		reg["list_directory"] = rag.NewListDirectoryTool(deps.DocsRoot)
	}

	if set.Wolfram {
		reg["wolfram_query"] = compute.NewWolframTool()
	}

	if set.Code {
		reg["run_python"] = compute.NewRunPythonTool(deps.Runner)
	}

	return reg
}
