// Copyright (C) 2024 The BuildIt Authors
// SPDX-License-Identifier: GPL-3.0-or-later

package pipeline

import "github.com/sblinch/kdl-go/document"

// The helpers below mirror get_first_string_arg / get_all_string_args /
// get_string_prop / get_bool_prop / get_string_list_prop from the original
// implementation's KDL reader. get_string_list_prop in particular has to
// support both the repeated-attribute form (`needs="a" needs="b"`) and the
// child-node form (`needs "a" "b"`), since pipeline authors use both.

func getFirstStringArg(node *document.Node) (string, bool) {
	if len(node.Arguments) == 0 {
		return "", false
	}
	return node.Arguments[0].String(), true
}

func getAllStringArgs(node *document.Node) []string {
	out := make([]string, 0, len(node.Arguments))
	for _, arg := range node.Arguments {
		out = append(out, arg.String())
	}
	return out
}

func getStringProp(node *document.Node, key string) (string, bool) {
	v, ok := node.Properties[key]
	if !ok || v == nil {
		return "", false
	}
	return v.String(), true
}

func getBoolProp(node *document.Node, key string) bool {
	v, ok := node.Properties[key]
	if !ok || v == nil {
		return false
	}
	if b, isBool := v.Value.(bool); isBool {
		return b
	}
	return v.String() == "true"
}

// getStringListProp resolves a property that may appear either repeated
// as attributes on node (`needs="a" needs="b"`, which KDL folds into the
// last occurrence — so in practice pipelines use the child-node form for
// more than one value) or as a child node whose arguments are the values
// (`needs "a" "b"`).
func getStringListProp(node *document.Node, key string) []string {
	var out []string
	if v, ok := getStringProp(node, key); ok && v != "" {
		out = append(out, v)
	}
	for _, child := range childNodes(node) {
		if child.Name.ValueString() == key {
			out = append(out, getAllStringArgs(child)...)
		}
	}
	return out
}

func childNodes(node *document.Node) []*document.Node {
	if node.Children == nil {
		return nil
	}
	return node.Children.Nodes
}

func childStringMap(node *document.Node) map[string]string {
	out := map[string]string{}
	for _, child := range childNodes(node) {
		if v, ok := getFirstStringArg(child); ok {
			out[child.Name.ValueString()] = v
		}
	}
	return out
}
