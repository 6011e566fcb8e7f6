// Copyright 2021-present The Atlas Authors. All rights reserved.
// This source code is licensed under the Apache 2.0 license found
// in the LICENSE file in the root directory of this source tree.

package cmdapi

import (
	"strings"
)

// legacyFlags maps the legacy switch names to their flags.
var legacyFlags = map[string]string{
	"upgrade":          flagUpgrade,
	"create":           flagCreate,
	"master":           flagMaster,
	"connectionstring": flagURL,
	"newdb":            flagNewDB,
	"showsql":          flagShowSQL,
	"notran":           flagNoTran,
	"nonormalize":      flagNoNormalize,
	"scriptfile":       flagScriptFile,
	"scriptfileaction": flagScriptFileAction,
	"acceptwarnings":   flagAcceptAll,
}

// LegacyArgs translates the legacy '/name[:value]' switches to flags of the
// install command, e.g. '/master:"..."' to '--master=...'. Names are case
// insensitive. Arguments that are not known switches are returned as is.
// The install command is selected if any legacy switch was given, and the
// '/?' and '/help' switches select the usage command.
func LegacyArgs(args []string) []string {
	var (
		legacy bool
		out    = make([]string, 0, len(args)+1)
	)
	for _, a := range args {
		if !strings.HasPrefix(a, "/") {
			out = append(out, a)
			continue
		}
		name, value, hasValue := strings.Cut(a[1:], ":")
		switch name = strings.ToLower(name); {
		case name == "?" || name == "help":
			return []string{"usage"}
		case legacyFlags[name] != "":
			legacy = true
			f := "--" + legacyFlags[name]
			if hasValue {
				f += "=" + unquote(value)
			}
			out = append(out, f)
		default:
			out = append(out, a)
		}
	}
	if legacy && (len(out) == 0 || strings.HasPrefix(out[0], "-")) {
		out = append([]string{"install"}, out...)
	}
	return out
}

func unquote(s string) string {
	if len(s) >= 2 && (s[0] == '"' && s[len(s)-1] == '"' || s[0] == '\'' && s[len(s)-1] == '\'') {
		return s[1 : len(s)-1]
	}
	return s
}
