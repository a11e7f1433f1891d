/*
Copyright 2025.

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

package probe

import (
	"context"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatch"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatch/types"

	"github.com/sentryguard/sentryguard/internal/monitor"
)

// AWSProbe calls CloudWatch GetMetricStatistics for the monitor's
// configured namespace/metric/resource over the last period window.
type AWSProbe struct {
	// newClient is overridable in tests.
	newClient func(ctx context.Context, region string) (*cloudwatch.Client, error)
}

func (p *AWSProbe) client(ctx context.Context, region string) (*cloudwatch.Client, error) {
	if p.newClient != nil {
		return p.newClient(ctx, region)
	}
	cfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(region))
	if err != nil {
		return nil, err
	}
	return cloudwatch.NewFromConfig(cfg), nil
}

func (p *AWSProbe) Check(ctx context.Context, m *monitor.Monitor) monitor.Sample {
	sample := monitor.Sample{MonitorID: m.ID, Timestamp: time.Now()}

	if m.AWS == nil || m.AWS.MetricName == "" {
		sample.Status = monitor.StatusError
		sample.ErrorMessage = "monitor has no aws metric configured"
		return sample
	}

	client, err := p.client(ctx, m.AWS.Region)
	if err != nil {
		sample.Status = monitor.StatusError
		sample.ErrorMessage = fmt.Sprintf("aws config: %v", err)
		return sample
	}

	period := time.Duration(m.PeriodMinutes) * time.Minute
	if period <= 0 {
		period = 5 * time.Minute
	}
	now := time.Now()

	dims := []types.Dimension{}
	if m.AWS.ResourceID != "" {
		dims = append(dims, types.Dimension{Name: aws.String("ResourceId"), Value: aws.String(m.AWS.ResourceID)})
	}

	out, err := client.GetMetricStatistics(ctx, &cloudwatch.GetMetricStatisticsInput{
		Namespace:  aws.String(m.AWS.Service),
		MetricName: aws.String(m.AWS.MetricName),
		Dimensions: dims,
		StartTime:  aws.Time(now.Add(-period)),
		EndTime:    aws.Time(now),
		Period:     aws.Int32(int32(period.Seconds())),
		Statistics: []types.Statistic{types.StatisticAverage},
	})
	if err != nil {
		sample.Status = monitor.StatusError
		sample.ErrorMessage = fmt.Sprintf("cloudwatch GetMetricStatistics: %v", err)
		return sample
	}

	if len(out.Datapoints) == 0 {
		sample.Status = monitor.StatusError
		sample.ErrorMessage = "no datapoints returned"
		return sample
	}

	latest := out.Datapoints[0]
	for _, dp := range out.Datapoints {
		if dp.Timestamp != nil && latest.Timestamp != nil && dp.Timestamp.After(*latest.Timestamp) {
			latest = dp
		}
	}

	var value float64
	if latest.Average != nil {
		value = *latest.Average
	}
	sample.Value = &value
	sample.Status = classifyThreshold(m, &value, false, false)
	return sample
}
