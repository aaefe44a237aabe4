package language

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDetector_Detect(t *testing.T) {
	d := NewDetector(0)
	tests := []struct {
		name string
		text string
		want string
	}{
		{"english question", "What AWS experience does Evelyn Hamilton have?", "en"},
		{"english answer", "Evelyn Hamilton has built data pipelines with AWS Glue and is the team lead [1].", "en"},
		{"spanish", "¿Qué experiencia tiene Evelyn con los servicios de AWS y la nube?", "es"},
		{"french", "Quelle est l'expérience de Jonathan dans la gestion de projets avec les équipes?", "fr"},
		{"german", "Welche Erfahrung hat Caitlin mit der Entwicklung und dem Testen von Software?", "de"},
		{"keywords only", "Python Django PostgreSQL", Undetermined},
		{"empty", "", Undetermined},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, d.Detect(tt.text))
		})
	}
}

func TestDetector_MinRatio(t *testing.T) {
	text := "the Python Django PostgreSQL Kubernetes Terraform Ansible Jenkins Grafana Redis Kafka Spark"
	assert.Equal(t, "en", NewDetector(0.05).Detect(text))
	assert.Equal(t, Undetermined, NewDetector(0.5).Detect(text))
}
