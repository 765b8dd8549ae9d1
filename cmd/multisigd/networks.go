// Copyright 2026 Blink Labs Software
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

package main

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"text/tabwriter"

	"github.com/spf13/cobra"
)

func networksCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "networks",
		Short: "List the configured networks",
		Run: func(cmd *cobra.Command, args []string) {
			cfg := configFromCommand(cmd)
			infos, err := cfg.NetworkInfos()
			if err != nil {
				slog.Error(err.Error())
				os.Exit(1)
			}
			w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "ID\tFAMILY\tCURRENCY\tTESTNET\tENDPOINT")
			for _, info := range infos {
				fmt.Fprintf(
					w,
					"%s\t%s\t%s\t%s\t%s\n",
					info.ID,
					info.Family,
					info.Currency.Symbol,
					strconv.FormatBool(info.Testnet),
					info.RPCEndpoint,
				)
			}
			_ = w.Flush()
		},
	}
}
