package backend

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/go-resty/resty/v2"
	"go.uber.org/zap"

	"github.com/ongniud/medalarm/apperrors"
	"github.com/ongniud/medalarm/reminder/model"
)

// RESTClient talks to the medication API (routes under /api).
type RESTClient struct {
	httpClient *resty.Client
	logger     *zap.Logger
}

// NewRESTClient 创建 API 客户端, baseURL 形如 http://host:8001/api
func NewRESTClient(baseURL string, timeout time.Duration, retries int, logger *zap.Logger) *RESTClient {
	if logger == nil {
		logger = zap.NewNop()
	}
	client := resty.New().
		SetBaseURL(baseURL).
		SetTimeout(timeout).
		SetRetryCount(retries).
		SetRetryWaitTime(500*time.Millisecond).
		SetRetryMaxWaitTime(3*time.Second).
		SetHeader("Content-Type", "application/json").
		SetHeader("Accept", "application/json")

	return &RESTClient{
		httpClient: client,
		logger:     logger.Named("backend.rest"),
	}
}

// do executes the request and maps transport and status failures onto app errors.
func (c *RESTClient) do(req *resty.Request, method, url string) error {
	resp, err := req.Execute(method, url)
	if err != nil {
		c.logger.Error("API call failed", zap.String("method", method), zap.String("url", url), zap.Error(err))
		return apperrors.NewAppError(apperrors.ErrNetworkFailure, method+" "+url, err)
	}
	switch {
	case resp.StatusCode() == http.StatusNotFound:
		return apperrors.Errorf(apperrors.ErrNotFound, "%s %s: %s", method, url, resp.String())
	case resp.IsError():
		c.logger.Error("API returned error",
			zap.String("method", method),
			zap.String("url", url),
			zap.Int("status_code", resp.StatusCode()),
		)
		return apperrors.Errorf(apperrors.ErrNetworkFailure, "%s %s: status %d", method, url, resp.StatusCode())
	}
	return nil
}

func (c *RESTClient) Alarms(ctx context.Context, profileID string) ([]model.Alarm, error) {
	var alarms []model.Alarm
	req := c.httpClient.R().SetContext(ctx).SetResult(&alarms)
	if profileID != "" {
		req.SetQueryParam("profile_id", profileID)
	}
	if err := c.do(req, http.MethodGet, "/alarms"); err != nil {
		return nil, err
	}
	return alarms, nil
}

func (c *RESTClient) ActiveAlarms(ctx context.Context, profileID string) ([]model.Alarm, error) {
	alarms, err := c.Alarms(ctx, profileID)
	if err != nil {
		return nil, err
	}
	return activeOnly(alarms), nil
}

func (c *RESTClient) Alarm(ctx context.Context, id string) (*model.Alarm, error) {
	var alarm model.Alarm
	req := c.httpClient.R().SetContext(ctx).SetPathParam("id", id).SetResult(&alarm)
	if err := c.do(req, http.MethodGet, "/alarms/{id}"); err != nil {
		return nil, err
	}
	return &alarm, nil
}

func (c *RESTClient) CreateAlarm(ctx context.Context, alarm *model.Alarm) (*model.Alarm, error) {
	var created model.Alarm
	req := c.httpClient.R().SetContext(ctx).SetBody(alarm).SetResult(&created)
	if err := c.do(req, http.MethodPost, "/alarms"); err != nil {
		return nil, err
	}
	return &created, nil
}

func (c *RESTClient) UpdateAlarm(ctx context.Context, alarm *model.Alarm) (*model.Alarm, error) {
	var updated model.Alarm
	req := c.httpClient.R().SetContext(ctx).SetPathParam("id", alarm.ID).SetBody(alarm).SetResult(&updated)
	if err := c.do(req, http.MethodPut, "/alarms/{id}"); err != nil {
		return nil, err
	}
	return &updated, nil
}

func (c *RESTClient) DeleteAlarm(ctx context.Context, id string) error {
	req := c.httpClient.R().SetContext(ctx).SetPathParam("id", id)
	return c.do(req, http.MethodDelete, "/alarms/{id}")
}

func (c *RESTClient) Medications(ctx context.Context, profileID string) ([]model.Medication, error) {
	var meds []model.Medication
	req := c.httpClient.R().SetContext(ctx).SetResult(&meds)
	if profileID != "" {
		req.SetQueryParam("profile_id", profileID)
	}
	if err := c.do(req, http.MethodGet, "/medications"); err != nil {
		return nil, err
	}
	return meds, nil
}

func (c *RESTClient) CreateAlarmLog(ctx context.Context, log *model.AlarmLog) (*model.AlarmLog, error) {
	var created model.AlarmLog
	req := c.httpClient.R().SetContext(ctx).SetBody(log).SetResult(&created)
	if err := c.do(req, http.MethodPost, "/alarm-logs"); err != nil {
		return nil, err
	}
	return &created, nil
}

func (c *RESTClient) AlarmLogs(ctx context.Context, profileID string, limit int) ([]model.AlarmLog, error) {
	if limit <= 0 {
		limit = DefaultLogLimit
	}
	var logs []model.AlarmLog
	req := c.httpClient.R().SetContext(ctx).
		SetQueryParam("limit", strconv.Itoa(limit)).
		SetResult(&logs)
	if profileID != "" {
		req.SetQueryParam("profile_id", profileID)
	}
	if err := c.do(req, http.MethodGet, "/alarm-logs"); err != nil {
		return nil, err
	}
	return logs, nil
}
