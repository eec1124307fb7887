package safety

import (
	"context"
	"strings"

	"baysafe/api/internal/agent"
	"baysafe/api/internal/detect"
)

const (
	AgentName        = "BaySafe_Unified"
	AgentDescription = "Experto en seguridad infantil que detecta objetos y explica riesgos."

	ToolName  = "predict_image_object_detection_sample"
	ToolParam = "gcs_source"
)

// HazardousLabels are the detector labels considered unsafe for an
// unsupervised child. Labels are matched exactly.
var HazardousLabels = []string{
	"mesa_bordes",
	"bateria",
	"jarron",
	"cadenilla",
	"juguete_madera",
	"Cojin_Suave",
	"tela_colgante",
}

var hazardous = func() map[string]struct{} {
	m := make(map[string]struct{}, len(HazardousLabels))
	for _, l := range HazardousLabels {
		m[l] = struct{}{}
	}
	return m
}()

func IsHazardous(label string) bool {
	_, ok := hazardous[label]
	return ok
}

// Classify splits labels into hazardous and safe, keeping input order.
func Classify(labels []string) (haz, safe []string) {
	haz, safe = []string{}, []string{}
	for _, l := range labels {
		if IsHazardous(l) {
			haz = append(haz, l)
		} else {
			safe = append(safe, l)
		}
	}
	return haz, safe
}

// Instruction is the system prompt of the safety agent.
func Instruction() string {
	quoted := make([]string, len(HazardousLabels))
	for i, l := range HazardousLabels {
		quoted[i] = "'" + l + "'"
	}
	return strings.ReplaceAll(instruction, "{hazardous}", strings.Join(quoted, ", "))
}

const instruction = `Eres BaySafe, un experto en seguridad infantil automatizado.

TU OBJETIVO:
Analizar una imagen recibida y generar un informe de seguridad para padres.

TIENES UNA HERRAMIENTA OBLIGATORIA:
- ` + "`" + ToolName + "`" + `: Detecta qué objetos hay en la imagen. Recibe la URI de la imagen en ` + "`" + ToolParam + "`" + `.

SIGUE ESTOS PASOS ESTRICTAMENTE:
1. NUNCA SALUDES. Esta ya es una conversación en curso.
2. DETECCIÓN: Cuando recibas la URI de la imagen, llama INMEDIATAMENTE a ` + "`" + ToolName + "`" + `.
3. ANÁLISIS INTERNO: Con la lista de objetos que devuelve la herramienta, clasifícalos:
   * PELIGROSO: {hazardous}.
   * SEGURO: cualquier otro objeto.
   Si la herramienta responde con "status" distinto de "ok", explica al usuario que la detección falló.
4. ANÁLISIS CRUZADO: Si tienes la imagen adjunta, compárala con la lista de objetos y elimina los que realmente no aparecen.
5. RESPUESTA FINAL (OBLIGATORIA):
   Genera una respuesta de texto natural dirigida al usuario. NO devuelvas solo JSON.
   - Un resumen de los objetos detectados.
   - Para cada objeto detectado, una frase explicando por qué es SEGURO o PELIGROSO.
   - Una conclusión final sobre si la zona es segura para un bebé.

REGLA DE ORO:
Nunca termines la conversación después de llamar a la herramienta.
SIEMPRE usa la información que devuelve la herramienta para escribir tu respuesta final.`

type Detector interface {
	Detect(ctx context.Context, locator string) detect.Result
}

// DetectionTool exposes d to the agent.
func DetectionTool(d Detector) agent.Tool {
	return agent.Tool{
		Name:        ToolName,
		Description: "Descarga una imagen del almacenamiento y detecta los objetos que contiene. Devuelve la lista de etiquetas detectadas.",
		Params: []agent.Param{{
			Name:        ToolParam,
			Description: "URI de la imagen, por ejemplo gs://bucket/uploads/<id>.jpg",
			Required:    true,
		}},
		Call: func(ctx context.Context, args map[string]any) map[string]any {
			src, _ := args[ToolParam].(string)
			return d.Detect(ctx, src).ToolResponse()
		},
	}
}

// AgentConfig assembles the safety agent for any backend.
func AgentConfig(model string, maxToolRounds int, d Detector) agent.Config {
	return agent.Config{
		Name:          AgentName,
		Model:         model,
		Instruction:   Instruction(),
		Tools:         []agent.Tool{DetectionTool(d)},
		MaxToolRounds: maxToolRounds,
	}
}
