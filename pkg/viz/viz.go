// Package viz renders the change history of one entity in a stored document
// as a graphviz graph.
package viz

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strconv"

	"github.com/automerge/automerge-go"
	"github.com/goccy/go-graphviz"
	"github.com/goccy/go-graphviz/cgraph"

	"github.com/astromechza/grocery-sync/pkg/amdoc"
	"github.com/astromechza/grocery-sync/pkg/model"
)

// Path returns the automerge path an entity is stored under.
func Path(key model.Key) []interface{} {
	switch key.Kind {
	case model.KindCategory:
		return []interface{}{"categories", key.ID}
	default:
		return []interface{}{"items", key.ID}
	}
}

// Label summarises the stored value of an entity at one point in history.
func Label(raw string, found bool) string {
	if !found {
		return "(absent)"
	}
	var v struct {
		Name    string `json:"name"`
		State   string `json:"state"`
		Updated int64  `json:"updated"`
	}
	if err := json.Unmarshal([]byte(raw), &v); err != nil {
		return "(unreadable)"
	}
	return fmt.Sprintf("%s [%s] @%d", v.Name, v.State, v.Updated)
}

// Render writes an SVG of every change in doc, labelled with the value of
// key as of that change.
func Render(doc *amdoc.Doc, key model.Key, w io.Writer) error {
	am := doc.Automerge()
	g := graphviz.New()
	graph, err := g.Graph()
	if err != nil {
		return fmt.Errorf("failed to setup graph: %w", err)
	}

	changes, err := am.Changes()
	if err != nil {
		return fmt.Errorf("failed to generate changes: %w", err)
	}

	nodeMap := make(map[string]*cgraph.Node)
	edgeCounter := 0
	for _, change := range changes {
		docAt, err := am.Fork(change.Hash())
		if err != nil {
			return fmt.Errorf("failed to checkout %s: %w", change.Hash(), err)
		}
		raw, err := automerge.As[string](docAt.Path(Path(key)...).Get())
		label := Label(raw, err == nil && raw != "")

		n, err := graph.CreateNode(change.Hash().String())
		if err != nil {
			return fmt.Errorf("failed to create node: %w", err)
		}
		n.SetLabel(fmt.Sprintf("%s %s@%d %s", change.Hash().String()[:8], change.ActorID(), change.ActorSeq(), label))
		nodeMap[n.Name()] = n

		for _, hash := range change.Dependencies() {
			parent, ok := nodeMap[hash.String()]
			if !ok {
				continue
			}
			edgeCounter++
			if _, err := graph.CreateEdge(strconv.Itoa(edgeCounter), parent, n); err != nil {
				return fmt.Errorf("failed to create edge: %w", err)
			}
		}
	}

	var buff bytes.Buffer
	if err := g.Render(graph, graphviz.SVG, &buff); err != nil {
		return fmt.Errorf("failed to render: %w", err)
	}
	if _, err := w.Write(buff.Bytes()); err != nil {
		return fmt.Errorf("failed to write: %w", err)
	}
	return nil
}

func RenderToFile(doc *amdoc.Doc, key model.Key, outputPath string) error {
	f, err := os.Create(outputPath)
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", outputPath, err)
	}
	defer f.Close()
	return Render(doc, key, f)
}
