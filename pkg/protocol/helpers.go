package protocol

import "time"

// =============================================================================
// Helper functions for creating messages
// =============================================================================

// NewMetricsMessage creates a metrics flush message
func NewMetricsMessage(system, session string, data MetricsData) (*Message, error) {
	msg, err := NewMessage(TypeMetrics, data)
	if err != nil {
		return nil, err
	}
	return msg.From(system, session), nil
}

// NewTrajectoryMessage creates a trajectory message
func NewTrajectoryMessage(system, session string, data TrajectoryData) (*Message, error) {
	msg, err := NewMessage(TypeTrajectory, data)
	if err != nil {
		return nil, err
	}
	return msg.From(system, session), nil
}

// NewSummaryMessage creates an execution summary message
func NewSummaryMessage(system, session string, data SummaryData) (*Message, error) {
	msg, err := NewMessage(TypeSummary, data)
	if err != nil {
		return nil, err
	}
	return msg.From(system, session), nil
}

// NewStateMessage creates a state message
func NewStateMessage(connected, running bool, detail string) (*Message, error) {
	return NewMessage(TypeState, StateData{
		Connected: connected,
		Running:   running,
		Detail:    detail,
	})
}

// NewPingMessage creates a ping message stamped with the current time
func NewPingMessage(id string) (*Message, error) {
	return NewMessage(TypePing, PingData{
		ID:        id,
		Timestamp: time.Now().UnixMilli(),
	})
}

// NewPongMessage creates a pong response message
func NewPongMessage(id string, pingTS, pongTS int64) (*Message, error) {
	return NewMessage(TypePong, PongData{
		ID:        id,
		PingTS:    pingTS,
		PongTS:    pongTS,
		LatencyMs: pongTS - pingTS,
	})
}

// =============================================================================
// Helper functions for parsing messages
// =============================================================================

// GetMetricsData extracts metrics data from a message
func (m *Message) GetMetricsData() (*MetricsData, error) {
	var data MetricsData
	if err := m.ParseData(&data); err != nil {
		return nil, err
	}
	return &data, nil
}

// GetTrajectoryData extracts trajectory data from a message
func (m *Message) GetTrajectoryData() (*TrajectoryData, error) {
	var data TrajectoryData
	if err := m.ParseData(&data); err != nil {
		return nil, err
	}
	return &data, nil
}

// GetSummaryData extracts an execution summary from a message
func (m *Message) GetSummaryData() (*SummaryData, error) {
	var data SummaryData
	if err := m.ParseData(&data); err != nil {
		return nil, err
	}
	return &data, nil
}

// GetStateData extracts state data from a message
func (m *Message) GetStateData() (*StateData, error) {
	var data StateData
	if err := m.ParseData(&data); err != nil {
		return nil, err
	}
	return &data, nil
}

// GetPingData extracts ping data from a message
func (m *Message) GetPingData() (*PingData, error) {
	var data PingData
	if err := m.ParseData(&data); err != nil {
		return nil, err
	}
	return &data, nil
}

// GetPongData extracts pong data from a message
func (m *Message) GetPongData() (*PongData, error) {
	var data PongData
	if err := m.ParseData(&data); err != nil {
		return nil, err
	}
	return &data, nil
}
