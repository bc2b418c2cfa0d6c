package sis

import (
	"context"
	"encoding/xml"
	"fmt"
	"net/http"
	"time"

	"sis-grade-sync/pkg/errors"
)

const (
	postGradePath   = "/webservice/InternalViewRESTV2/createOrUpdateStudentFinalGrade"
	dropStudentPath = "/webservice/InternalViewREST/dropStudentFromSection"

	// DateLayout is how the SIS expects calendar dates, e.g. "13 Apr 2023".
	DateLayout = "02 Jan 2006"

	alreadyPostedMessage = "Student already has a final grade"
	statusOK             = "OK"
)

// PostFinalGrade creates or updates the final grade of studentNumber in the
// section identified by sectionID. SIS-level outcomes come back in PostResult;
// the error is reserved for transport and protocol failures.
func (c *Client) PostFinalGrade(ctx context.Context, token, studentNumber, sectionID, grade string, completed time.Time) (PostResult, error) {
	var req postGradeRequest
	g := &req.Detail.StudentGrade
	g.CompletionDate = completed.Format(DateLayout)
	g.IsInstructorApproved = "Yes"
	g.IsProgramApproved = "Yes"
	g.IsRegistrarApproved = "Yes"
	g.GradingSheet.CourseSectionProfile.ObjectID = sectionID
	g.Student.PersonNumber = studentNumber
	g.StudentGradeItems.StudentGradeItem.Grade = grade

	body, err := marshal(req)
	if err != nil {
		return PostResult{}, err
	}

	resp, err := c.execute(ctx, request{
		method:  http.MethodPost,
		path:    postGradePath,
		query:   []param{{"_type", "json"}},
		body:    body,
		token:   token,
		capture: "grade-" + studentNumber + "-" + sectionID,
	})
	if err != nil {
		return PostResult{}, err
	}

	var out postGradeResponse
	if err := c.decode("createOrUpdateStudentFinalGrade", resp, &out); err != nil {
		return PostResult{}, err
	}

	switch {
	case out.Exception != nil:
		msg := out.Exception.CleanMessage()
		if msg == alreadyPostedMessage {
			return PostResult{Outcome: PostAlreadyPosted, Message: msg}, nil
		}
		return PostResult{Outcome: PostOtherError, Message: msg}, nil
	case out.Result != nil && out.Result.Status == statusOK:
		return PostResult{Outcome: PostSuccess, Message: statusOK}, nil
	case out.Result != nil:
		return PostResult{Outcome: PostOtherError, Message: fmt.Sprintf("unexpected status %q", out.Result.Status)}, nil
	}
	return PostResult{}, errors.ResponseShapeError{Endpoint: "createOrUpdateStudentFinalGrade", Field: "createOrUpdateStudentFinalGradeResult"}
}

// DropRequest withdraws a student from a section instead of grading them.
type DropRequest struct {
	StudentNumber string
	CourseNumber  string
	SectionNumber string
	Reason        string
	DropDate      time.Time
}

// DropStudent calls dropStudentFromSection, the one SIS endpoint that only accepts XML.
func (c *Client) DropStudent(ctx context.Context, token string, drop DropRequest) error {
	body, err := xml.Marshal(dropStudentRequest{
		AttributeValue: drop.StudentNumber,
		CourseNumber:   drop.CourseNumber,
		DropReason:     drop.Reason,
		RefundMode:     "None",
		DropDate:       drop.DropDate.Format(DateLayout),
		MatchOn:        "studentNumber",
		SectionNumber:  drop.SectionNumber,
	})
	if err != nil {
		return fmt.Errorf("failed to marshal drop request: %w", err)
	}

	resp, err := c.execute(ctx, request{
		method:      http.MethodPost,
		path:        dropStudentPath,
		query:       []param{{"_type", "json"}},
		body:        body,
		contentType: contentTypeXML,
		token:       token,
		capture:     "drop-" + drop.StudentNumber + "-" + drop.CourseNumber,
	})
	if err != nil {
		return err
	}

	if len(resp.body) == 0 {
		if resp.status >= http.StatusBadRequest {
			return fmt.Errorf("dropStudentFromSection returned HTTP %d", resp.status)
		}
		return nil
	}

	var out dropStudentResponse
	if err := c.decode("dropStudentFromSection", resp, &out); err != nil {
		return err
	}
	if out.Exception != nil {
		return out.Exception
	}
	return nil
}
