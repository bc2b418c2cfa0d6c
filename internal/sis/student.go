package sis

import (
	"context"
	"net/http"

	"sis-grade-sync/pkg/errors"
)

const (
	classListPath = "/webservice/InternalViewRESTV2/getClassList"
	studentPath   = "/webservice/InternalViewRESTV2/student/objectId/"
)

// GetClassList returns the enrolled students of a section. This endpoint takes
// the session id as a query parameter as well as in the header.
func (c *Client) GetClassList(ctx context.Context, token, courseNumber, sectionNumber string) (*ClassList, error) {
	var req getClassListRequest
	req.Detail.CourseNumber = courseNumber
	req.Detail.SectionNumber = sectionNumber

	body, err := marshal(req)
	if err != nil {
		return nil, err
	}

	resp, err := c.execute(ctx, request{
		method: http.MethodPost,
		path:   classListPath,
		query: []param{
			{"_type", "json"},
			{"overrideMaxResults", "Y"},
			{"sessionId", token},
		},
		body:    body,
		token:   token,
		capture: "classList-" + courseNumber + "-" + sectionNumber,
	})
	if err != nil {
		return nil, err
	}

	var out getClassListResponse
	if err := c.decode("getClassList", resp, &out); err != nil {
		return nil, err
	}
	if out.Exception != nil {
		return nil, out.Exception
	}
	if out.Result == nil {
		return nil, errors.ResponseShapeError{Endpoint: "getClassList", Field: "getClassListResult"}
	}

	list := &ClassList{Students: out.Result.StudentListItems.StudentListItem}
	if out.Result.CourseSectionProfile != nil {
		list.SectionID = out.Result.CourseSectionProfile.ObjectID
	}
	return list, nil
}

// GetStudent fetches one student by SIS object id; enrollment sync needs its loginId.
func (c *Client) GetStudent(ctx context.Context, token, studentID string) (*StudentProfile, error) {
	resp, err := c.execute(ctx, request{
		method: http.MethodGet,
		path:   studentPath + studentID,
		query: []param{
			{"_type", "json"},
			{"informationLevel", "full"},
		},
		token:   token,
		capture: "student-" + studentID,
	})
	if err != nil {
		return nil, err
	}

	var out getStudentResponse
	if err := c.decode("getStudent", resp, &out); err != nil {
		return nil, err
	}
	if out.Exception != nil {
		return nil, out.Exception
	}
	if out.Result == nil || out.Result.Student == nil {
		return nil, errors.ResponseShapeError{Endpoint: "getStudent", Field: "getStudentResult.student"}
	}
	return out.Result.Student, nil
}
