package scheduler

import (
	"encoding/json"
	"time"

	"github.com/hibiken/asynq"
)

const TaskFollowUpDeliver = "followup.deliver"

type FollowUpDeliverPayload struct {
	JobID    string    `json:"jobId"`
	TaskID   string    `json:"taskId"`
	LeadID   string    `json:"leadId"`
	Scenario string    `json:"scenario"`
	Text     string    `json:"text"`
	DueAt    time.Time `json:"dueAt"`
}

func NewFollowUpDeliverTask(payload FollowUpDeliverPayload) (*asynq.Task, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskFollowUpDeliver, data), nil
}

func ParseFollowUpDeliverPayload(task *asynq.Task) (FollowUpDeliverPayload, error) {
	var payload FollowUpDeliverPayload
	if err := json.Unmarshal(task.Payload(), &payload); err != nil {
		return FollowUpDeliverPayload{}, err
	}
	return payload, nil
}
