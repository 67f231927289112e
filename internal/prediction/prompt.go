package prediction

import (
	"strings"
	"text/template"
)

const systemInstruction = `You are an expert in predicting wait times at railway crossings.
Answer with a single JSON object with the string fields "estimatedWaitTime" and "explanation".`

var promptTemplate = template.Must(template.New("predict").Parse(`Analyze the provided train schedule, historical traffic data, the current day of the week, and the current time of day to determine the estimated wait time for the specified railway crossing.
Your explanation should explicitly consider how the current time and day affect typical traffic patterns based on historical data. For example, mention if "this time of the week is moderately heavy" or "traffic is usually light at this hour on a {{.CurrentDayOfWeek}}".

Railway Crossing ID: {{.CrossingID}}
Current Day: {{.CurrentDayOfWeek}}
Current Time: {{.CurrentTimeOfDay}}
Train Schedule: {{if .TrainSchedule}}{{.TrainSchedule}}{{else if .ToolEnabled}}Not provided. Call the getTrainSchedule tool with the crossing ID to fetch it. An empty list means no trains are scheduled.{{else}}Not available.{{end}}
Historical Traffic Data: {{.HistoricalTrafficData}}`))

type promptData struct {
	Input
	ToolEnabled bool
}

func renderPrompt(in Input, toolEnabled bool) (string, error) {
	var b strings.Builder
	if err := promptTemplate.Execute(&b, promptData{Input: in, ToolEnabled: toolEnabled}); err != nil {
		return "", err
	}
	return b.String(), nil
}
