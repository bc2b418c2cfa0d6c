package sis

import (
	"context"
	"net/http"

	"sis-grade-sync/internal/model"
	"sis-grade-sync/pkg/errors"
)

const (
	searchCoursePath = "/webservice/PublicViewREST/searchCourse"
	updateCoursePath = "/webservice/InternalViewREST/updateCourse"

	responseCodeSuccess = "Success"
)

// GetCourseAvailability returns the course profile for courseNumber. With a
// non-empty status only courses in that status are searched. A nil profile
// means the SIS returned nothing for the query.
func (c *Client) GetCourseAvailability(ctx context.Context, token, courseNumber string, status model.CourseStatus) (*CourseProfile, error) {
	var req searchCourseRequest
	req.Detail.Criteria.CourseCode = courseNumber
	req.Detail.Criteria.CourseStatus = string(status)

	body, err := marshal(req)
	if err != nil {
		return nil, err
	}

	capture := "course-" + courseNumber
	if status != "" {
		capture += "-" + string(status)
	}

	resp, err := c.execute(ctx, request{
		method: http.MethodPost,
		path:   searchCoursePath,
		query: []param{
			{"informationLevel", "Long"},
			{"locale", "en_US"},
			{"_type", "json"},
		},
		body:    body,
		token:   token,
		capture: capture,
	})
	if err != nil {
		return nil, err
	}

	var out searchCourseResponse
	if err := c.decode("searchCourse", resp, &out); err != nil {
		return nil, err
	}
	if out.Exception != nil {
		return nil, out.Exception
	}
	if out.Result == nil {
		return nil, nil
	}

	profiles := out.Result.CourseProfiles.CourseProfile
	for i := range profiles {
		if profiles[i].CourseNumber == courseNumber {
			return &profiles[i], nil
		}
	}
	// Single-result answers from some SIS versions omit courseNumber.
	if len(profiles) == 1 && profiles[0].CourseNumber == "" {
		return &profiles[0], nil
	}
	return nil, nil
}

// CourseChange carries the fields UpdateCourse should set; empty fields are left alone.
type CourseChange struct {
	Status        model.CourseStatus
	Applicability model.Applicability
}

// UpdateCourse changes a course's status and/or applicability. Any response code
// other than "Success" is returned as a RemoteUpdateError alongside the code.
func (c *Client) UpdateCourse(ctx context.Context, token, courseNumber string, change CourseChange) (string, error) {
	var req updateCourseRequest
	req.Detail.Course.AssociationMode = "update"
	req.Detail.Course.CourseNumber = courseNumber
	req.Detail.Course.ObjectStatusCode = string(change.Status)
	req.Detail.Course.Applicability = string(change.Applicability)

	body, err := marshal(req)
	if err != nil {
		return "", err
	}

	resp, err := c.execute(ctx, request{
		method:  http.MethodPost,
		path:    updateCoursePath,
		query:   []param{{"_type", "json"}},
		body:    body,
		token:   token,
		capture: "updateCourse-" + courseNumber,
	})
	if err != nil {
		return "", err
	}

	var out updateCourseResponse
	if err := c.decode("updateCourse", resp, &out); err != nil {
		return "", err
	}

	code := ""
	if out.Result != nil {
		code = out.Result.ResponseCode
	} else if out.Exception != nil {
		code = out.Exception.CleanMessage()
	}
	if code != responseCodeSuccess {
		return code, errors.RemoteUpdateError{CourseNumber: courseNumber, ResponseCode: code}
	}
	return code, nil
}
