// Copyright 2021-present The Atlas Authors. All rights reserved.
// This source code is licensed under the Apache 2.0 license found
// in the LICENSE file in the root directory of this source tree.

package cmdapi

import (
	"fmt"
	"os"

	"github.com/hashicorp/hcl/v2"
	"github.com/hashicorp/hcl/v2/gohcl"
	"github.com/hashicorp/hcl/v2/hclparse"
	"github.com/zclconf/go-cty/cty"
	"github.com/zclconf/go-cty/cty/function"
)

const projectFileName = "installer.hcl"

type (
	// Project represents an installer.hcl project file.
	Project struct {
		Envs []*Env `hcl:"env,block"` // List of environments
	}

	// Env represents an installer environment.
	Env struct {
		// Name for this environment.
		Name string `hcl:"name,label"`

		// URL of the target database.
		URL string `hcl:"url,optional"`

		// Master is the administrative URL used to create new databases.
		Master string `hcl:"master,optional"`

		// NewDB is the name of the database to create.
		NewDB string `hcl:"newdb,optional"`

		// Dir is the path of the change scripts directory.
		Dir string `hcl:"dir,optional"`

		LedgerTable   string `hcl:"ledger_table,optional"`
		TxMode        string `hcl:"tx_mode,optional"`
		LockTimeout   string `hcl:"lock_timeout,optional"`
		Normalize     *bool  `hcl:"normalize,optional"`
		AcceptNew     *bool  `hcl:"accept_new,optional"`
		AcceptChanged *bool  `hcl:"accept_changed,optional"`

		// Format of the environment.
		Format *Format `hcl:"format,block"`
	}

	// Format represents the output formatting configuration of an environment.
	Format struct {
		Install string `hcl:"install,optional"`
		Status  string `hcl:"status,optional"`
	}
)

// getenv returns the value of an environment variable, or an empty string.
var getenv = function.New(&function.Spec{
	Params: []function.Parameter{
		{Name: "key", Type: cty.String},
	},
	Type: function.StaticReturnType(cty.String),
	Impl: func(args []cty.Value, _ cty.Type) (cty.Value, error) {
		return cty.StringVal(os.Getenv(args[0].AsString())), nil
	},
})

// LoadEnv reads the project file at the given path and returns the
// environment with the given name. Input variables are exposed to the
// file under the "var" namespace.
func LoadEnv(path, name string, vars Vars) (*Env, error) {
	if _, err := os.Stat(path); err != nil {
		if os.IsNotExist(err) {
			err = fmt.Errorf("project file %q was not found: %w", path, err)
		}
		return nil, err
	}
	f, diags := hclparse.NewParser().ParseHCLFile(path)
	if diags.HasErrors() {
		return nil, diags
	}
	values := make(map[string]cty.Value, len(vars))
	for k, v := range vars {
		values[k] = v
	}
	ctx := &hcl.EvalContext{
		Variables: map[string]cty.Value{
			"var": cty.ObjectVal(values),
		},
		Functions: map[string]function.Function{
			"getenv": getenv,
		},
	}
	var p Project
	if diags := gohcl.DecodeBody(f.Body, ctx, &p); diags.HasErrors() {
		return nil, diags
	}
	var selected *Env
	for _, e := range p.Envs {
		if e.Name != name {
			continue
		}
		if selected != nil {
			return nil, fmt.Errorf("env %q is defined more than once in project file %q", name, path)
		}
		selected = e
	}
	if selected == nil {
		return nil, fmt.Errorf("env %q not defined in project file", name)
	}
	return selected, nil
}
