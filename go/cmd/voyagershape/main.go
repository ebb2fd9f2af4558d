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

// voyagershape is an offline diagnostic for query shapes: it
// canonicalizes queries the same way the server does and prints the
// resulting shape keys, so operators can see which queries share a plan
// cache entry.
package main

import (
	"bufio"
	"fmt"
	"os"

	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"
	"go.mongodb.org/mongo-driver/bson"

	"github.com/voyagerdb/voyager/go/vy/log"
	"github.com/voyagerdb/voyager/go/vy/query"
)

var (
	collection string
	queryJSON  string
	sortJSON   string
	projJSON   string
	batchFile  string

	root = &cobra.Command{
		Use:   "voyagershape",
		Short: "voyagershape canonicalizes queries and prints their plan cache shapes.",
		RunE:  runShape,
	}

	batch = &cobra.Command{
		Use:   "batch",
		Short: "Reads JSON-lines of {query, sort, projection} documents and tabulates their shapes.",
		Args:  cobra.NoArgs,
		RunE:  runBatch,
	}
)

func init() {
	log.RegisterFlags(root.PersistentFlags())
	root.PersistentFlags().StringVar(&collection, "collection", "test.collection", "Namespace to canonicalize against.")
	root.Flags().StringVar(&queryJSON, "query", "{}", "Filter document, extended JSON.")
	root.Flags().StringVar(&sortJSON, "sort", "", "Sort document, extended JSON.")
	root.Flags().StringVar(&projJSON, "projection", "", "Projection document, extended JSON.")
	batch.Flags().StringVar(&batchFile, "file", "", "JSON-lines input file, one query document per line.")
	root.AddCommand(batch)
}

func runShape(cmd *cobra.Command, args []string) error {
	filter, err := parseDoc(queryJSON)
	if err != nil {
		return fmt.Errorf("bad query: %v", err)
	}
	sortDoc, err := parseOptionalDoc(sortJSON)
	if err != nil {
		return fmt.Errorf("bad sort: %v", err)
	}
	proj, err := parseOptionalDoc(projJSON)
	if err != nil {
		return fmt.Errorf("bad projection: %v", err)
	}

	cq, err := query.Canonicalize(collection, filter, sortDoc, proj)
	if err != nil {
		return err
	}

	key := cq.PlanCacheKey()
	fmt.Printf("shape key: %q\n", string(key))
	fmt.Printf("query hash: %s\n", query.QueryHash(key))
	fmt.Printf("normalized tree:\n%s", cq.Root())
	return nil
}

func runBatch(cmd *cobra.Command, args []string) error {
	if batchFile == "" {
		return fmt.Errorf("--file is required")
	}
	f, err := os.Open(batchFile)
	if err != nil {
		return err
	}
	defer f.Close()

	table := tablewriter.NewWriter(os.Stdout)
	table.Header("Line", "Query Hash", "Shape Key")

	lineNo := 0
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		lineNo++
		line := scanner.Text()
		if len(line) == 0 {
			continue
		}
		var doc bson.D
		if err := bson.UnmarshalExtJSON([]byte(line), false, &doc); err != nil {
			log.Warningf("line %d: %v", lineNo, err)
			continue
		}
		filter, sortDoc, proj := splitShapeDoc(doc)
		cq, err := query.Canonicalize(collection, filter, sortDoc, proj)
		if err != nil {
			log.Warningf("line %d: %v", lineNo, err)
			continue
		}
		key := cq.PlanCacheKey()
		if err := table.Append([]string{
			fmt.Sprintf("%d", lineNo),
			query.QueryHash(key),
			fmt.Sprintf("%q", string(key)),
		}); err != nil {
			return err
		}
	}
	if err := scanner.Err(); err != nil {
		return err
	}
	return table.Render()
}

// splitShapeDoc picks the query/sort/projection parts out of one input
// line. A line without a query field is treated as a bare filter.
func splitShapeDoc(doc bson.D) (filter, sortDoc, proj bson.D) {
	found := false
	for _, elt := range doc {
		sub, ok := elt.Value.(bson.D)
		if !ok {
			continue
		}
		switch elt.Key {
		case "query":
			filter = sub
			found = true
		case "sort":
			sortDoc = sub
		case "projection":
			proj = sub
		}
	}
	if !found {
		return doc, nil, nil
	}
	return filter, sortDoc, proj
}

func parseDoc(s string) (bson.D, error) {
	var d bson.D
	if err := bson.UnmarshalExtJSON([]byte(s), false, &d); err != nil {
		return nil, err
	}
	return d, nil
}

func parseOptionalDoc(s string) (bson.D, error) {
	if s == "" {
		return nil, nil
	}
	return parseDoc(s)
}

func main() {
	defer log.Flush()
	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
