/*
Copyright 2026 The Voyager Authors.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

// Package log is a thin adapter around glog. Callers use the package-level
// function variables so tests can intercept output if they need to.
package log

import (
	goflag "flag"

	"github.com/golang/glog"
	"github.com/spf13/pflag"
)

// Level is the glog verbosity level.
type Level = glog.Level

var (
	// V quickly checks if the logging verbosity meets a threshold.
	V = glog.V

	// Flush ensures any pending I/O is written.
	Flush = glog.Flush

	// Info formats arguments like fmt.Print.
	Info = glog.Info
	// Infof formats arguments like fmt.Printf.
	Infof = glog.Infof

	// Warning formats arguments like fmt.Print.
	Warning = glog.Warning
	// Warningf formats arguments like fmt.Printf.
	Warningf = glog.Warningf

	// Error formats arguments like fmt.Print.
	Error = glog.Error
	// Errorf formats arguments like fmt.Printf.
	Errorf = glog.Errorf

	// Exitf formats arguments like fmt.Printf, then calls os.Exit.
	Exitf = glog.Exitf
)

// RegisterFlags installs the glog flags on the given FlagSet. glog
// registers itself on the standard library's flag.CommandLine; binaries
// using pflag call this once before parsing.
func RegisterFlags(fs *pflag.FlagSet) {
	for _, name := range []string{"v", "logtostderr", "alsologtostderr", "stderrthreshold", "log_dir"} {
		if gf := goflag.CommandLine.Lookup(name); gf != nil {
			fs.AddGoFlag(gf)
		}
	}
}
