/*
Copyright 2026 The Kvgate Authors.

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

// kvgate is the table-resolution and error-throttling core of the kv proxy.
package main

import (
	"kvgate.io/kvgate/go/cmd/kvgate/cli"
	"kvgate.io/kvgate/go/kv/log"
)

func main() {
	defer log.Flush()
	if err := cli.Main.Execute(); err != nil {
		log.Exitf("%v", err)
	}
}
