// Copyright 2025 UMH Systems GmbH
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package opcua_plugin

import (
	"context"
	"fmt"
	"strings"

	"github.com/gopcua/opcua/id"
	"github.com/gopcua/opcua/ua"
)

// MaxBrowseDepth bounds the recursion of the diagnostic browser.
const MaxBrowseDepth = 10

// TreeEntry is one node of the diagnostic tree.
type TreeEntry struct {
	ID          *ua.NodeID
	Namespace   uint16
	Identifier  string
	DisplayName string
	NodeClass   ua.NodeClass
	VariantType *ua.TypeID // nil when neither the DataType nor the value could be read
	Value       any
}

// BrowseTree walks the hierarchical references below root, root included.
// Variables are typed by their DataType attribute; lookup resolves vendor
// data types and may be nil. Failures on single nodes are swallowed; only a
// cancelled or expired context aborts the walk, in which case the entries
// collected so far are returned together with the context error.
func BrowseTree(ctx context.Context, root NodeBrowser, lookup DataTypeLookup) ([]TreeEntry, error) {
	w := &treeWalker{visited: map[string]struct{}{}, lookup: lookup}
	err := w.walk(ctx, root, 0)
	return w.entries, err
}

type treeWalker struct {
	entries []TreeEntry
	visited map[string]struct{}
	lookup  DataTypeLookup
}

func (w *treeWalker) walk(ctx context.Context, n NodeBrowser, depth int) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if n == nil || n.ID() == nil {
		return nil
	}

	key := n.ID().String()
	if _, seen := w.visited[key]; seen {
		return nil
	}
	w.visited[key] = struct{}{}

	entry, _ := readTreeEntry(ctx, n, w.lookup)
	w.entries = append(w.entries, entry)

	if depth >= MaxBrowseDepth {
		return nil
	}

	children, err := n.Children(ctx, id.HierarchicalReferences,
		ua.NodeClassObject|ua.NodeClassVariable|ua.NodeClassMethod)
	if err != nil {
		return ctx.Err()
	}
	for _, child := range children {
		if err := w.walk(ctx, child, depth+1); err != nil {
			return err
		}
	}
	return nil
}

// FormatTree renders methods and typed variables one per line as
// "name(Type) ns:N i:ID" and cuts the result to at most maxLength runes.
func FormatTree(entries []TreeEntry, maxLength int) string {
	var b strings.Builder
	for _, e := range entries {
		var kind string
		switch {
		case e.NodeClass == ua.NodeClassMethod:
			kind = nodeClassName(e.NodeClass)
		case e.NodeClass == ua.NodeClassVariable && e.VariantType != nil:
			kind = variantTypeName(*e.VariantType)
		default:
			continue
		}
		if b.Len() > 0 {
			b.WriteByte('\n')
		}
		fmt.Fprintf(&b, "%s(%s) ns:%d %s", e.DisplayName, kind, e.Namespace, e.Identifier)
	}
	return truncateRunes(b.String(), maxLength)
}

func truncateRunes(s string, maxLength int) string {
	if maxLength <= 0 {
		return s
	}
	runes := []rune(s)
	if len(runes) <= maxLength {
		return s
	}
	return string(runes[:maxLength])
}
