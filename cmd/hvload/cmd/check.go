/*
Copyright © 2025 blacktop

Permission is hereby granted, free of charge, to any person obtaining a copy
of this software and associated documentation files (the "Software"), to deal
in the Software without restriction, including without limitation the rights
to use, copy, modify, merge, publish, distribute, sublicense, and/or sell
copies of the Software, and to permit persons to whom the Software is
furnished to do so, subject to the following conditions:

The above copyright notice and this permission notice shall be included in
all copies or substantial portions of the Software.

THE SOFTWARE IS PROVIDED "AS IS", WITHOUT WARRANTY OF ANY KIND, EXPRESS OR
IMPLIED, INCLUDING BUT NOT LIMITED TO THE WARRANTIES OF MERCHANTABILITY,
FITNESS FOR A PARTICULAR PURPOSE AND NONINFRINGEMENT. IN NO EVENT SHALL THE
AUTHORS OR COPYRIGHT HOLDERS BE LIABLE FOR ANY CLAIM, DAMAGES OR OTHER
LIABILITY, WHETHER IN AN ACTION OF CONTRACT, TORT OR OTHERWISE, ARISING FROM,
OUT OF OR IN CONNECTION WITH THE SOFTWARE OR THE USE OR OTHER DEALINGS IN
THE SOFTWARE.
*/
package cmd

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/blacktop/go-hvloader"
)

func init() {
	rootCmd.AddCommand(checkCmd)
}

var checkCmd = &cobra.Command{
	Use:   "check",
	Short: "Check hardware virtualization support and processor visibility",
	RunE: func(cmd *cobra.Command, args []string) error {
		ok, err := hvloader.Supported()
		if err != nil {
			fmt.Printf("hv support: error: %v\n", err)
		} else {
			fmt.Printf("hv support: %v\n", ok)
		}

		caps := hvloader.DetectCapabilities()
		fmt.Printf("cpu: %s (%s, %s)\n", caps.Brand, caps.Vendor, caps.Arch)
		fmt.Printf("extensions: vmx=%v svm=%v\n", caps.VMX, caps.SVM)
		fmt.Printf("page size: %d\n", caps.PageSize)

		if online, err := cfg.Enumerator().OnlineCPUs(); err != nil {
			fmt.Printf("online cpus: error: %v\n", err)
		} else {
			fmt.Printf("online cpus: %s\n", joinInts(online))
		}
		if allowed, err := hvloader.AllowedCPUs(); err != nil {
			fmt.Printf("allowed cpus: error: %v\n", err)
		} else {
			fmt.Printf("allowed cpus: %s\n", joinInts(allowed))
		}

		return nil
	},
}

func joinInts(v []int) string {
	s := make([]string, len(v))
	for i, n := range v {
		s[i] = fmt.Sprint(n)
	}
	return strings.Join(s, ",")
}
