package models

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const (
	originLabel = "origin"
	kindLabel   = "kind"
)

var (
	sceneCount = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "scene_count",
		Help: "The number of scenes.",
	}, []string{originLabel})

	sceneCountTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "scene_count_total",
		Help: "The total number of scenes.",
	}, []string{originLabel})

	entityCount = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "scene_entity_count",
		Help: "The number of entities across scenes.",
	}, []string{kindLabel})
)

func instrumentIncreaseSceneGauge(origin string) {
	sceneCount.
		With(prometheus.Labels{originLabel: origin}).
		Inc()
}

func instrumentDecreaseSceneGauge(origin string) {
	sceneCount.
		With(prometheus.Labels{originLabel: origin}).
		Dec()
}

func instrumentCountScene(origin string) {
	sceneCountTotal.
		With(prometheus.Labels{originLabel: origin}).
		Inc()
}

func instrumentIncreaseEntityGauge(dynamic bool) {
	entityCount.
		With(prometheus.Labels{kindLabel: entityKind(dynamic)}).
		Inc()
}

func instrumentDecreaseEntityGauge(dynamic bool) {
	entityCount.
		With(prometheus.Labels{kindLabel: entityKind(dynamic)}).
		Dec()
}

func entityKind(dynamic bool) string {
	if dynamic {
		return "dynamic"
	}
	return "static"
}
