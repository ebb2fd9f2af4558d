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

package query

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Plan cache counters, aggregated over all collections.
var (
	planCacheHits = promauto.NewCounter(prometheus.CounterOpts{
		Name: "voyager_query_plan_cache_hits_total",
		Help: "Plan cache lookups that found an entry.",
	})
	planCacheMisses = promauto.NewCounter(prometheus.CounterOpts{
		Name: "voyager_query_plan_cache_misses_total",
		Help: "Plan cache lookups that found no entry.",
	})
	planCacheAdds = promauto.NewCounter(prometheus.CounterOpts{
		Name: "voyager_query_plan_cache_adds_total",
		Help: "Plan cache entries installed or replaced.",
	})
	planCacheEvictions = promauto.NewCounter(prometheus.CounterOpts{
		Name: "voyager_query_plan_cache_evictions_total",
		Help: "Plan cache entries evicted by feedback.",
	})
	planCacheFlushes = promauto.NewCounter(prometheus.CounterOpts{
		Name: "voyager_query_plan_cache_flushes_total",
		Help: "Whole-cache flushes triggered by write activity.",
	})
	planCacheWriteNotifications = promauto.NewCounter(prometheus.CounterOpts{
		Name: "voyager_query_plan_cache_write_notifications_total",
		Help: "Write operations reported to the plan cache.",
	})
)
