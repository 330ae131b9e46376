package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

type nodesFile struct {
	Nodes []*Config `yaml:"nodes"`
}

// LoadNodes reads a YAML file describing several Retail Express nodes.
//
//	nodes:
//	  - node_id: 1
//	    url: https://example.retailexpress.com.au
//	    wsdl: /dotnet/admin/webservices/v2/webstore/service.asmx
//	    client_id: ...
func LoadNodes(path string) ([]*Config, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read nodes file: %w", err)
	}
	return ParseNodes(raw)
}

// ParseNodes decodes and validates a nodes document.
func ParseNodes(raw []byte) ([]*Config, error) {
	var f nodesFile
	if err := yaml.Unmarshal(raw, &f); err != nil {
		return nil, fmt.Errorf("failed to parse nodes file: %w", err)
	}
	if len(f.Nodes) == 0 {
		return nil, fmt.Errorf("nodes file defines no nodes")
	}

	seen := make(map[int]bool, len(f.Nodes))
	for i, node := range f.Nodes {
		if node == nil {
			return nil, fmt.Errorf("node %d is empty", i)
		}
		if err := node.Validate(); err != nil {
			return nil, fmt.Errorf("node %d: %w", node.NodeID, err)
		}
		if seen[node.NodeID] {
			return nil, fmt.Errorf("duplicate node_id %d", node.NodeID)
		}
		seen[node.NodeID] = true
	}
	return f.Nodes, nil
}
